package providers

import (
	"github.com/smallbiznis/railzway-reports/internal/providers/email"
	"github.com/smallbiznis/railzway-reports/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
