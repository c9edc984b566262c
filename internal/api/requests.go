package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/nerrad567/seedgate-core/internal/auth"
)

// usernameRule mirrors auth.IsValidUsername for field-level messages.
var usernameRule = validation.Match(regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)).
	Error("must be 1-64 letters, digits, dots, hyphens or underscores")

// portValue accepts a port as a JSON number or a numeric string.
type portValue int

func (p *portValue) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*p = 0
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*p = portValue(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("port must be a number")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port must be a number")
	}
	*p = portValue(n)
	return nil
}

// connectionFields are the wire form of auth.ConnectionTarget.
type connectionFields struct {
	Host       string    `json:"host"`
	Port       portValue `json:"port"`
	SocketPath string    `json:"socketPath"`
}

// target builds the connection target. It returns nil, nil when no field
// is set and required is false.
func (c connectionFields) target(required bool) (auth.ConnectionTarget, error) {
	hasNetwork := c.Host != "" || c.Port != 0
	hasSocket := c.SocketPath != ""

	switch {
	case hasNetwork && hasSocket:
		return nil, validation.Errors{
			"socketPath": errors.New("cannot be combined with host/port"),
		}
	case hasSocket:
		return auth.SocketTarget{Path: c.SocketPath}, nil
	case hasNetwork:
		errs := validation.Errors{}
		if c.Host == "" {
			errs["host"] = errors.New("cannot be blank")
		}
		if c.Port < 1 || c.Port > 65535 {
			errs["port"] = errors.New("must be between 1 and 65535")
		}
		if len(errs) > 0 {
			return nil, errs
		}
		return auth.NetworkTarget{Host: c.Host, Port: int(c.Port)}, nil
	case required:
		return nil, validation.Errors{
			"host": errors.New("host/port or socketPath is required"),
		}
	default:
		return nil, nil
	}
}

// authenticateRequest is the request body for POST /auth/authenticate.
type authenticateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r authenticateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// createUserRequest is the request body for POST /auth/register and
// PUT /auth/users. IsAdmin is ignored on register.
type createUserRequest struct {
	Username   string    `json:"username"`
	Password   string    `json:"password"`
	Host       string    `json:"host"`
	Port       portValue `json:"port"`
	SocketPath string    `json:"socketPath"`
	IsAdmin    bool      `json:"isAdmin"`
}

func (r createUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, usernameRule,
			validation.By(notReserved)),
		validation.Field(&r.Password, validation.Required),
	)
}

func (r createUserRequest) connection() (auth.ConnectionTarget, error) {
	return connectionFields{Host: r.Host, Port: r.Port, SocketPath: r.SocketPath}.target(true)
}

func notReserved(value any) error {
	if s, ok := value.(string); ok && auth.ReservedUsername(s) {
		return errors.New("is reserved")
	}
	return nil
}

// updateUserRequest is the request body for PATCH /auth/users/{username}.
// Any connection field replaces the stored target whatever its kind.
type updateUserRequest struct {
	Host       string    `json:"host"`
	Port       portValue `json:"port"`
	SocketPath string    `json:"socketPath"`
	IsAdmin    *bool     `json:"isAdmin"`
}

func (r updateUserRequest) patch() (auth.UserPatch, error) {
	target, err := connectionFields{Host: r.Host, Port: r.Port, SocketPath: r.SocketPath}.target(false)
	if err != nil {
		return auth.UserPatch{}, err
	}
	return auth.UserPatch{Connection: target, IsAdmin: r.IsAdmin}, nil
}

// settingEntry is one element of a PATCH /settings body.
type settingEntry struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

func (e settingEntry) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.ID, validation.Required, validation.Length(1, 256)),
	)
}

// decodeJSON decodes a request body into v, rejecting unknown fields and
// trailing data.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// decodeSettingEntries accepts a single {id, data} object or an array of them.
func decodeSettingEntries(r *http.Request) ([]settingEntry, error) {
	var raw json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		return nil, err
	}

	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	var entries []settingEntry
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := strictUnmarshal(raw, &entries); err != nil {
			return nil, err
		}
	} else {
		var one settingEntry
		if err := strictUnmarshal(raw, &one); err != nil {
			return nil, err
		}
		entries = []settingEntry{one}
	}

	for i, e := range entries {
		if err := e.Validate(); err != nil {
			var verrs validation.Errors
			if errors.As(err, &verrs) && len(entries) > 1 {
				prefixed := validation.Errors{}
				for k, v := range verrs {
					prefixed[strconv.Itoa(i)+"."+k] = v
				}
				return nil, prefixed
			}
			return nil, err
		}
	}
	return entries, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
