package envelope

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sealbox/backend/internal/crypto"
	"github.com/sealbox/backend/internal/observability"
)

// Default cost exponents and limits.
const (
	DefaultK1Cost          = 20
	DefaultK2Cost          = 19
	DefaultMaxCost         = 22
	DefaultMaxDeclaredSize = 60_000_000_000
)

// Options is the explicit engine context: the scheme version for new
// objects, KDF cost defaults, decrypt-side limits and the collaborators.
// Nothing here influences how an existing object is decrypted except the
// limits, which only reject.
type Options struct {
	// Version is used for new encryptions.
	Version Version

	// K1Cost and K2Cost are the scrypt exponents written into new headers.
	K1Cost uint8
	K2Cost uint8

	// MaxCost caps the exponents accepted from headers.
	MaxCost uint8

	// MaxDeclaredSize caps plaintext sizes in both directions.
	MaxDeclaredSize int64

	// Counter is shared by every encryption of this process.
	Counter *crypto.FileCounter

	Clock   crypto.Clock
	Rand    io.Reader
	Logger  *observability.Logger
	Metrics *observability.Metrics

	// StateHook, if set, observes every state transition.
	StateHook StateHook
}

// DefaultOptions returns production settings with a fresh counter.
func DefaultOptions() Options {
	return Options{
		Version:         V00,
		K1Cost:          DefaultK1Cost,
		K2Cost:          DefaultK2Cost,
		MaxCost:         DefaultMaxCost,
		MaxDeclaredSize: DefaultMaxDeclaredSize,
		Counter:         crypto.NewFileCounter(0),
		Clock:           crypto.SystemClock{},
	}
}

// Dispatcher is the facade over all known schemes.
// It is safe for concurrent use on distinct channels.
type Dispatcher struct {
	eng     *engine
	schemes map[Version]Scheme
	tracer  trace.Tracer
}

// NewDispatcher validates opts and builds one Scheme per known version.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if _, ok := registry[opts.Version]; !ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrInvalidOptions, ErrUnknownVersion, opts.Version)
	}
	if opts.MaxCost < crypto.MinCost || opts.MaxCost > crypto.MaxCost {
		return nil, fmt.Errorf("%w: max cost %d outside [%d, %d]", ErrInvalidOptions, opts.MaxCost, crypto.MinCost, crypto.MaxCost)
	}
	for _, c := range []uint8{opts.K1Cost, opts.K2Cost} {
		if c < crypto.MinCost || c > opts.MaxCost {
			return nil, fmt.Errorf("%w: cost %d outside [%d, %d]", ErrInvalidOptions, c, crypto.MinCost, opts.MaxCost)
		}
	}
	if opts.MaxDeclaredSize <= 0 {
		return nil, fmt.Errorf("%w: max declared size must be positive", ErrInvalidOptions)
	}
	if opts.Counter == nil {
		opts.Counter = crypto.NewFileCounter(0)
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}

	eng := &engine{
		opts:    opts,
		nonces:  crypto.NewNonceFactory(opts.Counter, opts.Clock, opts.Rand),
		log:     opts.Logger,
		metrics: opts.Metrics,
	}

	d := &Dispatcher{
		eng:     eng,
		schemes: make(map[Version]Scheme, len(registry)),
		tracer:  observability.Tracer("envelope"),
	}
	for v, build := range registry {
		d.schemes[v] = build(eng)
	}
	return d, nil
}

// Version returns the scheme version used for new encryptions.
func (d *Dispatcher) Version() Version {
	return d.eng.opts.Version
}

// MaxDeclaredSize returns the configured plaintext size limit.
func (d *Dispatcher) MaxDeclaredSize() int64 {
	return d.eng.opts.MaxDeclaredSize
}

// Encrypt encrypts size bytes of src with the current scheme.
//
// On success it returns the peer's post-transfer status and a nil error.
// On failure it returns Code(err) and the error; every secret derived for
// the operation has been wiped by then.
func (d *Dispatcher) Encrypt(ctx context.Context, req Request, src io.Reader, size int64) (int32, error) {
	scheme := d.schemes[d.eng.opts.Version]
	return d.run(ctx, "encrypt", scheme.Version(), size, func(ctx context.Context) (int32, error) {
		return scheme.Encrypt(ctx, req, src, size)
	})
}

// Decrypt reads the version byte sent by the peer and decrypts the object
// into dst with the matching scheme. Partial output must be discarded by
// the caller whenever the returned error is non-nil.
func (d *Dispatcher) Decrypt(ctx context.Context, req Request, dst io.Writer) (int32, error) {
	return d.dispatch(ctx, "decrypt", req, func(ctx context.Context, s Scheme) (int32, error) {
		return s.Decrypt(ctx, req, dst)
	})
}

// DecryptShare is Decrypt for a share download: the peer sends only N2 and
// hexKey supplies K2 directly. No password is involved.
func (d *Dispatcher) DecryptShare(ctx context.Context, req Request, hexKey string, dst io.Writer) (int32, error) {
	return d.dispatch(ctx, "decrypt_share", req, func(ctx context.Context, s Scheme) (int32, error) {
		return s.DecryptShare(ctx, req, hexKey, dst)
	})
}

// DeriveShareKey recovers K2 of an existing object from its version and
// header and returns it as 64 lowercase hex characters.
func (d *Dispatcher) DeriveShareKey(ctx context.Context, pw PasswordSource, v Version, header []byte) (string, error) {
	var key string
	_, err := d.run(ctx, "derive_share_key", v, int64(len(header)), func(ctx context.Context) (int32, error) {
		s, ok := d.schemes[v]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownVersion, v)
		}
		k2, err := s.DeriveShareKey(ctx, pw, header)
		if err != nil {
			return 0, err
		}
		defer k2.Destroy()
		key = hex.EncodeToString(k2.Bytes())
		return CodeOK, nil
	})
	return key, err
}

// dispatch reads the version byte and hands over to the matching scheme.
// Unknown versions are refused before any key derivation.
func (d *Dispatcher) dispatch(ctx context.Context, op string, req Request, fn func(context.Context, Scheme) (int32, error)) (int32, error) {
	b, err := readByte(req.Channel)
	if err != nil {
		d.eng.metrics.RecordOperationStart()
		return d.finish(op, time.Now(), err)
	}
	v := Version(b)

	return d.run(ctx, op, v, -1, func(ctx context.Context) (int32, error) {
		s, ok := d.schemes[v]
		if !ok {
			_ = signal(req.Channel, false)
			return 0, fmt.Errorf("%w: %s", ErrUnknownVersion, v)
		}
		return fn(ctx, s)
	})
}

// run wraps one operation with tracing, metrics and logging.
func (d *Dispatcher) run(ctx context.Context, op string, v Version, size int64, fn func(context.Context) (int32, error)) (int32, error) {
	ctx, span := d.tracer.Start(ctx, "envelope."+op, trace.WithAttributes(
		attribute.String("scheme_version", v.String()),
		attribute.Int64("size", size),
	))
	defer span.End()

	start := time.Now()
	d.eng.metrics.RecordOperationStart()
	d.eng.log.OperationStarted(op, byte(v), size)

	status, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, resultLabel(err))
		return d.finish(op, start, err)
	}

	span.SetAttributes(attribute.Int("peer_status", int(status)))
	d.eng.metrics.RecordOperation(op, "ok", time.Since(start))
	d.eng.log.OperationCompleted(op, status, size, time.Since(start))
	return status, nil
}

func (d *Dispatcher) finish(op string, start time.Time, err error) (int32, error) {
	code := Code(err)
	if errors.Is(err, ErrAuthentication) {
		d.eng.metrics.RecordAuthFailure(op)
	}
	d.eng.metrics.RecordOperation(op, resultLabel(err), time.Since(start))
	d.eng.log.OperationFailed(op, code, err)
	return code, err
}
