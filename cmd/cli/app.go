package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/and161185/charforge/internal/character"
	"github.com/and161185/charforge/internal/client"
	"github.com/and161185/charforge/internal/config"
	"github.com/and161185/charforge/internal/crypto/sealer"
	"github.com/and161185/charforge/internal/entitlement"
	"github.com/and161185/charforge/internal/localcache"
	"github.com/and161185/charforge/internal/orchestrator"
	"github.com/and161185/charforge/internal/payment"
	"github.com/and161185/charforge/internal/session"
	"github.com/and161185/charforge/internal/usage"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
)

// app holds what one CLI invocation needs. Components are opened lazily so
// commands such as version touch nothing on disk.
type app struct {
	cfg     config.Client
	verbose bool
	out     io.Writer

	// dialOpts and httpClient are overridden in tests.
	dialOpts   []grpc.DialOption
	httpClient *http.Client

	log     *zap.Logger
	sess    *session.Store
	cache   *localcache.Cache
	conn    *grpc.ClientConn
	backend *client.Backend
}

func newLogger(verbose bool) *zap.Logger {
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if verbose {
		zc = zap.NewDevelopmentConfig()
	}
	log, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// init opens the session, the device cache and the server connection.
func (a *app) init() error {
	if a.sess != nil {
		return nil
	}
	if a.log == nil {
		a.log = newLogger(a.verbose)
	}
	a.sess = session.New(a.cfg.ConfigDir)

	key, err := sealer.LoadOrCreateKey(a.sess.Path("device.key"))
	if err != nil {
		return err
	}
	s, err := sealer.New(key)
	if err != nil {
		return err
	}
	a.cache, err = localcache.Open(a.sess.Path("cache.db"), localcache.WithSealer(s))
	if err != nil {
		return err
	}
	a.sess.OnSignOut(func() error { return a.cache.Clear(context.Background()) })

	token, err := a.sess.Token()
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		a.log.Warn("ignoring unreadable session", zap.Error(err))
	}
	a.conn, err = client.Dial(client.Options{
		Addr:      a.cfg.ServerAddr,
		CACert:    a.cfg.CACert,
		Insecure:  a.cfg.Insecure,
		Plaintext: a.cfg.Plaintext,
		Token:     token,
	}, a.dialOpts...)
	if err != nil {
		return err
	}
	a.backend = client.NewBackend(a.conn)
	return nil
}

func (a *app) close() {
	if a.conn != nil {
		_ = a.conn.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func (a *app) usageStore() *usage.Fallback {
	return usage.NewFallback(
		usage.NewRemote(a.backend, a.cfg.SupportKey),
		usage.NewLocal(a.cache),
		a.log,
	)
}

func (a *app) evaluator() *entitlement.Evaluator {
	return entitlement.New(entitlement.WithAnonymousLimit(a.cfg.AnonymousLimit))
}

func (a *app) orchestrator() *orchestrator.Orchestrator {
	return orchestrator.New(
		character.New(a.cfg.GeneratorURL, a.httpClient),
		a.usageStore(),
		a.evaluator(),
		a.cache,
		a.log,
	)
}

func (a *app) verifier() *payment.Verifier {
	return payment.NewVerifier(a.backend, a.usageStore(), a.cache, a.log)
}

func (a *app) provider() *payment.Provider {
	return payment.NewProvider(a.cfg.PaymentURL, a.httpClient)
}

func (a *app) printJSON(v any) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
