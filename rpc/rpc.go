// Package rpc maps named actions with flat parameter maps onto the vault
// session's operations. It is the boundary a transport (stdio host,
// browser-extension bridge, HTTP shim) talks to; any framing may sit in
// front of it.
//
// Every response is either {"ok":true, ...payload} or
// {"ok":false,"error":message}. Error messages are the library's sentinel
// texts only, never stack traces or internal file paths.
package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"southwinds.dev/opvault"
)

// ErrUnknownAction indicates a request naming no supported action.
var ErrUnknownAction = errors.New("unknown action")

// Request is one inbound action invocation.
type Request struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Response is a flat JSON-ready result map.
type Response map[string]interface{}

// Dispatcher routes requests onto a session.
type Dispatcher struct {
	service opvault.Service
	log     zerolog.Logger
}

// NewDispatcher wires a dispatcher to a session service.
func NewDispatcher(service opvault.Service, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{service: service, log: log}
}

// Handle executes one request and always returns a well-formed response.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	startTime := time.Now()

	resp := d.dispatch(ctx, req)

	ok, _ := resp["ok"].(bool)
	d.log.Info().
		Str("action", req.Action).
		Bool("ok", ok).
		Dur("duration", time.Since(startTime)).
		Msg("request handled")

	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) Response {
	switch req.Action {
	case "unlock":
		return d.unlock(ctx, req)
	case "lock":
		d.service.Lock()
		return Response{"ok": true}
	case "status":
		return Response{
			"ok":        true,
			"unlocked":  d.service.IsUnlocked(),
			"path":      d.service.VaultPath(),
			"itemCount": d.service.ItemCount(),
		}
	case "list":
		items, err := d.service.ListAll()
		if err != nil {
			return fail(err)
		}
		return Response{"ok": true, "items": items}
	case "get_logins":
		url := stringParam(req, "url")
		items, err := d.service.FindByURL(url)
		if err != nil {
			return fail(err)
		}
		return Response{"ok": true, "items": items}
	case "fill":
		creds, err := d.service.GetCredentials(stringParam(req, "uuid"))
		if err != nil {
			return fail(err)
		}
		return Response{
			"ok":       true,
			"uuid":     creds.UUID,
			"username": creds.Username,
			"password": creds.Password,
			"totp":     creds.Totp,
		}
	case "copy":
		return d.copyField(req)
	case "get_item":
		item, err := d.service.GetItem(stringParam(req, "uuid"))
		if err != nil {
			return fail(err)
		}
		return Response{
			"ok":       true,
			"uuid":     item.UUID,
			"category": item.Category,
			"title":    item.Overview.Title,
			"url":      item.Overview.URL,
			"password": item.Detail.Password,
			"fields":   item.Detail.Fields,
			"sections": item.Detail.Sections,
			"notes":    item.Detail.NotesPlain,
		}
	default:
		return fail(ErrUnknownAction)
	}
}

func (d *Dispatcher) unlock(ctx context.Context, req Request) Response {
	path := stringParam(req, "path")
	password := stringParam(req, "password")
	idleTimeout := time.Duration(numberParam(req, "idleTimeoutMs")) * time.Millisecond

	if err := d.service.Unlock(ctx, path, password, idleTimeout); err != nil {
		return fail(err)
	}
	return Response{"ok": true, "itemCount": d.service.ItemCount()}
}

// copyField resolves one credential field by name; the transport side is
// responsible for placing it on a clipboard.
func (d *Dispatcher) copyField(req Request) Response {
	creds, err := d.service.GetCredentials(stringParam(req, "uuid"))
	if err != nil {
		return fail(err)
	}

	field := stringParam(req, "field")
	var value string
	switch field {
	case "", "password":
		value = creds.Password
	case "username":
		value = creds.Username
	case "totp":
		value = creds.Totp
	default:
		return fail(ErrUnknownAction)
	}

	return Response{"ok": true, "value": value}
}

func stringParam(req Request, key string) string {
	if req.Params == nil {
		return ""
	}
	v, _ := req.Params[key].(string)
	return v
}

func numberParam(req Request, key string) float64 {
	if req.Params == nil {
		return 0
	}
	v, _ := req.Params[key].(float64)
	return v
}

// fail converts an error into a safe response. Sentinel messages pass
// through untouched; anything unexpected collapses to a generic message so
// internal detail never leaks to a client.
func fail(err error) Response {
	return Response{"ok": false, "error": safeMessage(err)}
}

var knownErrors = []error{
	opvault.ErrMalformedWrapper,
	opvault.ErrMalformedProfile,
	opvault.ErrTooShort,
	opvault.ErrBadMagic,
	opvault.ErrAuthFailed,
	opvault.ErrLengthOverflow,
	opvault.ErrItemNotFound,
	opvault.ErrLocked,
	ErrUnknownAction,
	context.Canceled,
	context.DeadlineExceeded,
}

func safeMessage(err error) string {
	for _, known := range knownErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "operation failed"
}
