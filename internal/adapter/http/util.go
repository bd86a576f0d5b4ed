package adapthttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"driverlink/internal/domain"
)

// envelope is the common {success, message, data} response wrapper.
type envelope struct {
	Status  int
	Success *bool
	Message string
	Data    json.RawMessage
	fields  map[string]json.RawMessage
}

// decodeEnvelope never fails: a body that is not a JSON object just yields
// an envelope without fields.
func decodeEnvelope(status int, raw []byte) *envelope {
	env := &envelope{Status: status}
	if err := json.Unmarshal(raw, &env.fields); err != nil {
		env.fields = nil
		return env
	}
	if v, ok := env.fields["success"]; ok {
		var b bool
		if json.Unmarshal(v, &b) == nil {
			env.Success = &b
		}
	}
	if v, ok := env.fields["message"]; ok {
		_ = json.Unmarshal(v, &env.Message)
	}
	if v, ok := env.fields["data"]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		env.Data = v
	}
	return env
}

// requireSuccess maps non-2xx statuses and success:false bodies to an
// *domain.APIError. With strict set, a missing success field is a failure too.
func (e *envelope) requireSuccess(strict bool) error {
	ok := e.Status >= 200 && e.Status < 300
	switch {
	case e.Success != nil:
		ok = ok && *e.Success
	case strict:
		ok = false
	}
	if ok {
		return nil
	}
	return &domain.APIError{Status: e.Status, Message: e.Message}
}

// loginPayload is the login answer after flat/nested normalization.
type loginPayload struct {
	UserID       flexString     `json:"userId"`
	Token        string         `json:"token"`
	RefreshToken string         `json:"refreshToken"`
	UserType     string         `json:"userType"`
	User         domain.Profile `json:"user"`
}

// loginResponse reads the login fields from data when present, else from the
// top level, so nothing past this point branches on response shape.
func (e *envelope) loginResponse() (*domain.LoginResponse, error) {
	src := e.Data
	if len(src) == 0 || src[0] != '{' {
		b, err := json.Marshal(e.fields)
		if err != nil {
			return nil, fmt.Errorf("login response: %w", err)
		}
		src = b
	}
	var p loginPayload
	if err := json.Unmarshal(src, &p); err != nil {
		return nil, fmt.Errorf("%w: login response: %v", domain.ErrMissingToken, err)
	}
	if p.UserType == "" && p.User != nil {
		if ut, ok := p.User["userType"].(string); ok {
			p.UserType = ut
		}
	}
	return &domain.LoginResponse{
		UserID:       string(p.UserID),
		Token:        p.Token,
		RefreshToken: p.RefreshToken,
		UserType:     p.UserType,
		User:         p.User,
		Message:      e.Message,
	}, nil
}

func (e *envelope) profile() (domain.Profile, error) {
	if len(e.Data) == 0 {
		return nil, nil
	}
	var p domain.Profile
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return nil, fmt.Errorf("profile response: %w", err)
	}
	return p, nil
}

// flexString accepts ids sent either as JSON strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
