package migrate

import (
	"testing"

	"github.com/angelmondragon/fieldops-backend/pkg/config"
)

func TestShouldAutoMigrate(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		want bool
	}{
		{"sqlite always", config.Config{DB: config.DBConfig{Driver: "sqlite"}, App: config.AppConfig{Env: config.AppEnvProd}}, true},
		{"dev with flag", config.Config{DB: config.DBConfig{Driver: "postgres"}, App: config.AppConfig{Env: config.AppEnvDev}, FeatureFlags: config.FeatureFlagsConfig{AutoMigrate: true}}, true},
		{"dev without flag", config.Config{DB: config.DBConfig{Driver: "postgres"}, App: config.AppConfig{Env: config.AppEnvDev}}, false},
		{"prod with flag", config.Config{DB: config.DBConfig{Driver: "postgres"}, App: config.AppConfig{Env: config.AppEnvProd}, FeatureFlags: config.FeatureFlagsConfig{AutoMigrate: true}}, false},
	}
	for _, tc := range cases {
		if got := shouldAutoMigrate(&tc.cfg); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}
