// Package migration keeps the schema current on startup so the service is
// usable out of the box for local and self-hosted environments.
package migration

import (
	accountdomain "github.com/mixforge/mixforge/internal/account/domain"
	creditdomain "github.com/mixforge/mixforge/internal/credit/domain"
	processingdomain "github.com/mixforge/mixforge/internal/processing/domain"
	projectdomain "github.com/mixforge/mixforge/internal/project/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		return conn.AutoMigrate(
			&accountdomain.User{},
			&projectdomain.Project{},
			&projectdomain.VideoFile{},
			&creditdomain.CreditTransaction{},
			&processingdomain.ProcessingJob{},
			&processingdomain.OutputFile{},
		)
	}),
)
