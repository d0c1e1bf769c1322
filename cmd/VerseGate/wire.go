//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"VerseGate/internal/biz"
	"VerseGate/internal/conf"
	"VerseGate/internal/data"
	"VerseGate/internal/server"
	"VerseGate/internal/service"
	"VerseGate/pkg/provider"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Provider, *conf.Gateway, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		provider.NewClient,
		wire.FieldsOf(new(*conf.Gateway), "Budget", "Retry", "Moderation"),
		newScheduledJobs,
		newApp,
	))
}
