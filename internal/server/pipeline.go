package server

import (
	"fmt"

	"github.com/morezero/serveapi/internal/config"
	"github.com/morezero/serveapi/pkg/cast"
	"github.com/morezero/serveapi/pkg/dispatcher"
	"github.com/morezero/serveapi/pkg/events"
	"github.com/morezero/serveapi/pkg/router"
	"github.com/morezero/serveapi/pkg/serveapi"
	"github.com/morezero/serveapi/pkg/wire"
)

// Setup registers a service on an App. Text serves the string framings,
// Document the JSON and CBOR document framings; Run picks the one matching
// SERVEAPI_CODEC.
type Setup struct {
	Text     func(app *serveapi.App[string]) error
	Document func(app *serveapi.App[wire.Document]) error
}

// pipeline is a built App bound to one transport.
type pipeline struct {
	exec    Executor
	router  *router.Router
	pending func() int
	wait    func()
}

func newPipeline(cfg *config.Config, setup Setup, w dispatcher.Writer, pub events.EventPublisher) (*pipeline, error) {
	switch cfg.Codec {
	case config.CodecSimple, config.CodecID, config.CodecHashed, config.CodecHeader:
		if setup.Text == nil {
			return nil, fmt.Errorf("%s - codec %s needs a text setup", logPrefix, cfg.Codec)
		}
		app := serveapi.New[string](textCodec(cfg.Codec), cast.String{})
		if err := setup.Text(app); err != nil {
			return nil, fmt.Errorf("%s - setup: %w", logPrefix, err)
		}
		return buildPipeline(cfg, app, w, pub)
	case config.CodecJSONHeader, config.CodecJSON, config.CodecCBOR:
		if setup.Document == nil {
			return nil, fmt.Errorf("%s - codec %s needs a document setup", logPrefix, cfg.Codec)
		}
		codec, c := documentCodec(cfg.Codec)
		app := serveapi.New[wire.Document](codec, c)
		if err := setup.Document(app); err != nil {
			return nil, fmt.Errorf("%s - setup: %w", logPrefix, err)
		}
		return buildPipeline(cfg, app, w, pub)
	}
	return nil, fmt.Errorf("%s - unknown codec %q", logPrefix, cfg.Codec)
}

func buildPipeline[T any](cfg *config.Config, app *serveapi.App[T], w dispatcher.Writer, pub events.EventPublisher) (*pipeline, error) {
	hook := events.Hook(pub, cfg.COMMSName)
	runner, err := app.Build(w,
		dispatcher.WithFireAndForget[T](cfg.FireAndForget),
		dispatcher.WithTimeout[T](cfg.RequestTimeout),
		dispatcher.OnSuccess[T](hook),
		dispatcher.OnFailure[T](hook),
	)
	if err != nil {
		return nil, err
	}
	disp := runner.Dispatcher()
	return &pipeline{
		exec:    runner,
		router:  app.Router(),
		pending: disp.Pending,
		wait:    disp.Wait,
	}, nil
}

func textCodec(name string) wire.Codec[string] {
	switch name {
	case config.CodecID:
		return wire.NewIDString()
	case config.CodecHashed:
		return wire.NewHashedString()
	case config.CodecHeader:
		return wire.NewHeaderString()
	}
	return wire.NewSimpleString()
}

func documentCodec(name string) (wire.Codec[wire.Document], cast.Cast[wire.Document]) {
	switch name {
	case config.CodecJSONHeader:
		return wire.NewHeaderJSON(), cast.JSON{}
	case config.CodecCBOR:
		return wire.NewDocumentCBOR(), cast.CBOR{}
	}
	return wire.NewDocumentJSON(), cast.JSON{}
}
