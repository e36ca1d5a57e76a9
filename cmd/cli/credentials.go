package main

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/yourusername/course-extract-go/internal/app"
	"github.com/yourusername/course-extract-go/internal/domain"
)

// bindCredentials lets each credential come from its flag or from
// COURSEEXTRACT_<NAME>, falling back to the server's xiaoe.* env names
func bindCredentials(v *viper.Viper, cookie, appID, host *pflag.Flag) {
	_ = v.BindPFlag("cookie", cookie)
	_ = v.BindPFlag("app_id", appID)
	_ = v.BindPFlag("host", host)

	_ = v.BindEnv("cookie", app.EnvPrefix+"_COOKIE", app.EnvPrefix+"_XIAOE_COOKIE")
	_ = v.BindEnv("app_id", app.EnvPrefix+"_APP_ID", app.EnvPrefix+"_XIAOE_APP_ID")
	_ = v.BindEnv("host", app.EnvPrefix+"_HOST", app.EnvPrefix+"_XIAOE_HOST")
}

// credentials returns what the caller supplied. Empty fields are filled
// by the server from its configuration.
func credentials(v *viper.Viper) domain.Credentials {
	return domain.Credentials{
		Cookie: v.GetString("cookie"),
		AppID:  v.GetString("app_id"),
		Host:   v.GetString("host"),
	}
}
