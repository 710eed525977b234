package main

import (
	"net/http"
	"os"
	"time"

	"github.com/fiffu/releasewatch/app"
	"github.com/fiffu/releasewatch/config"
	"github.com/fiffu/releasewatch/lib"
	"github.com/fiffu/releasewatch/lib/dispatch"
	"github.com/fiffu/releasewatch/lib/history"
	"github.com/fiffu/releasewatch/lib/render"
	"github.com/fiffu/releasewatch/lib/seenstore"
	"github.com/fiffu/releasewatch/lib/sources"
	"github.com/fiffu/releasewatch/lib/watcher"
	"github.com/fiffu/releasewatch/senders"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),

		fx.Provide(NewLogger),
		fx.Provide(config.NewConfig),

		fx.Provide(app.NewHTTPClient),
		fx.Provide(app.NewDatabase),

		fx.Provide(seenstore.NewSeenStore),
		fx.Provide(history.NewHistory),
		fx.Provide(sources.NewRegistry),
		fx.Provide(render.NewRegistry),

		fx.Provide(senders.NewSenderRegistry),
		fx.Provide(senders.NewSender),
		fx.Provide(dispatch.NewDispatcher),

		fx.Provide(watcher.NewWatcher),
		fx.Provide(lib.NewService),
		fx.Provide(app.NewAPI),

		fx.Invoke(func(*http.Server) {}),
		fx.Invoke(func(*watcher.Watcher) {}),
	).Run()
}
