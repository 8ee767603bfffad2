package receivable

import (
	"github.com/smallbiznis/receivables/internal/receivable/repository"
	"github.com/smallbiznis/receivables/internal/receivable/service"
	"go.uber.org/fx"
)

var Module = fx.Module("receivable.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
