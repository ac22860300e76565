package params

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/logging"
)

// Provider reads configuration parameters
type Provider interface {
	GetConfigParams(ctx context.Context, iflowIDs []string, environment string) ([]ConfigParam, error)
}

// DefaultsFunc produces the seed parameters of one iFlow in one environment
type DefaultsFunc func(iflowID, environment string) []ConfigParam

type entry struct {
	param  ConfigParam
	sealed []byte
}

// Registry stores parameters in memory; secrets are kept sealed
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	seeded   map[string]bool
	key      [32]byte
	defaults DefaultsFunc
	logger   logging.Logger
}

var _ Provider = (*Registry)(nil)

// Option configures a Registry
type Option func(*Registry)

// WithKey sets the secretbox key; without it an ephemeral key is generated
func WithKey(key *[32]byte) Option {
	return func(r *Registry) {
		if key != nil {
			r.key = *key
		}
	}
}

// WithDefaults replaces the seed parameter set
func WithDefaults(fn DefaultsFunc) Option {
	return func(r *Registry) {
		if fn != nil {
			r.defaults = fn
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(r *Registry) {
		r.logger = logging.OrNop(l)
	}
}

// NewRegistry creates an empty registry that seeds defaults lazily
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		entries:  make(map[string]*entry),
		seeded:   make(map[string]bool),
		defaults: DefaultParams,
		logger:   logging.NewNop(),
	}
	if _, err := io.ReadFull(rand.Reader, r.key[:]); err != nil {
		return nil, errors.Wrap(err, errors.ErrSecret, "failed to generate secret key")
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ParamID builds the identifier of a parameter
func ParamID(iflowID, environment, name string) string {
	return iflowID + "/" + environment + "/" + name
}

// GetConfigParams returns the parameters of the given iFlows, seeding them on first access
func (r *Registry) GetConfigParams(ctx context.Context, iflowIDs []string, environment string) ([]ConfigParam, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	if !ValidEnvironment(environment) {
		return nil, errors.Newf(errors.ErrInvalidInput, "unknown environment %q", environment)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []ConfigParam
	for _, id := range iflowIDs {
		if err := r.seedLocked(id, environment); err != nil {
			return nil, err
		}
		for _, e := range r.entries {
			if e.param.IFlowID == id && e.param.Environment == environment {
				out = append(out, masked(e))
			}
		}
	}
	sortParams(out)
	return out, nil
}

// Get returns one parameter with secrets masked
func (r *Registry) Get(id string) (ConfigParam, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return ConfigParam{}, errors.Newf(errors.ErrNotFound, "parameter %s not found", id)
	}
	return masked(e), nil
}

// Set overwrites the value of an existing parameter
func (r *Registry) Set(ctx context.Context, id, value string) error {
	if err := ctx.Err(); err != nil {
		return errors.FromContext(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return errors.Newf(errors.ErrNotFound, "parameter %s not found", id)
	}
	if err := checkSyntax(e.param.Type, value); err != nil {
		return errors.WithContext(err, map[string]interface{}{"param": id})
	}

	if e.param.Type == TypeSecret {
		sealed, err := r.seal(value)
		if err != nil {
			return err
		}
		e.sealed = sealed
		e.param.Value = ""
		r.logger.Info("secret parameter %s updated", id)
		return nil
	}

	e.param.Value = value
	r.logger.Debug("parameter %s set to %q", id, value)
	return nil
}

// Reveal returns the cleartext of a parameter; deployers only
func (r *Registry) Reveal(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return "", errors.Newf(errors.ErrNotFound, "parameter %s not found", id)
	}
	if e.param.Type != TypeSecret {
		return e.param.Value, nil
	}
	if len(e.sealed) == 0 {
		return "", nil
	}
	return r.open(e.sealed)
}

// Missing lists required parameters that hold no value
func (r *Registry) Missing(ctx context.Context, iflowIDs []string, environment string) ([]ConfigParam, error) {
	all, err := r.GetConfigParams(ctx, iflowIDs, environment)
	if err != nil {
		return nil, err
	}
	var out []ConfigParam
	for _, p := range all {
		if p.Required && !p.IsSet() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *Registry) seedLocked(iflowID, environment string) error {
	key := iflowID + "/" + environment
	if r.seeded[key] {
		return nil
	}
	for _, p := range r.defaults(iflowID, environment) {
		p.IFlowID = iflowID
		p.Environment = environment
		p.ID = ParamID(iflowID, environment, p.Name)
		e := &entry{param: p}
		if p.Type == TypeSecret && p.Value != "" {
			sealed, err := r.seal(p.Value)
			if err != nil {
				return err
			}
			e.sealed = sealed
			e.param.Value = ""
		}
		r.entries[p.ID] = e
	}
	r.seeded[key] = true
	return nil
}

func (r *Registry) seal(value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrap(err, errors.ErrSecret, "failed to generate nonce")
	}
	return secretbox.Seal(nonce[:], []byte(value), &nonce, &r.key), nil
}

func (r *Registry) open(sealed []byte) (string, error) {
	if len(sealed) < 24 {
		return "", errors.New(errors.ErrSecret, "sealed value is truncated")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &r.key)
	if !ok {
		return "", errors.New(errors.ErrSecret, "failed to open sealed value")
	}
	return string(plain), nil
}

func masked(e *entry) ConfigParam {
	p := e.param
	if p.Type == TypeSecret {
		p.Value = ""
		if len(e.sealed) > 0 {
			p.Value = Mask
		}
	}
	return p
}

func sortParams(ps []ConfigParam) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].IFlowID != ps[j].IFlowID {
			return ps[i].IFlowID < ps[j].IFlowID
		}
		return ps[i].Name < ps[j].Name
	})
}

func checkSyntax(t ParamType, value string) error {
	if value == "" {
		return nil
	}
	switch t {
	case TypeNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return errors.Newf(errors.ErrInvalidInput, "%q is not a number", value)
		}
	case TypeBoolean:
		if _, err := strconv.ParseBool(value); err != nil {
			return errors.Newf(errors.ErrInvalidInput, "%q is not a boolean", value)
		}
	case TypeURL:
		u, err := url.Parse(value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.Newf(errors.ErrInvalidInput, "%q is not an absolute URL", value)
		}
	}
	return nil
}

// DefaultParams is the seed set every iFlow starts with
func DefaultParams(iflowID, environment string) []ConfigParam {
	host := strings.TrimPrefix(iflowID, "if-")
	return []ConfigParam{
		{Name: "Receiver_Endpoint", Type: TypeURL, Required: true,
			Value:       fmt.Sprintf("https://%s.%s.example.com/api", host, environment),
			Description: "Target endpoint of the receiver adapter"},
		{Name: "Sender_System", Type: TypeString, Required: true,
			Value:       strings.ToUpper(strings.ReplaceAll(host, "-", "_")),
			Description: "Logical sender system name"},
		{Name: "Timeout_Seconds", Type: TypeNumber, Value: "30",
			Description: "Receiver call timeout"},
		{Name: "Enable_Tracing", Type: TypeBoolean, Value: strconv.FormatBool(environment != EnvProd),
			Description: "Message processing log at trace level"},
		{Name: "Receiver_Credential", Type: TypeSecret,
			Description: "Credential alias used by the receiver adapter"},
	}
}
