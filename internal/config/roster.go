package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/example/booking-guard/internal/application"
)

// Roster preference defaults.
const (
	DefaultWindowPastDays   = 14
	DefaultWindowFutureDays = 90
	DefaultBufferBefore     = 10
	DefaultBufferAfter      = 10
)

// RosterUser is one entry of the roster file. Unset numeric preferences fall
// back to the package defaults.
type RosterUser struct {
	Email            string `yaml:"email" validate:"required,email"`
	AutoBooking      bool   `yaml:"auto_booking"`
	WindowPastDays   *int   `yaml:"window_past_days" validate:"omitempty,gte=0,lte=365"`
	WindowFutureDays *int   `yaml:"window_future_days" validate:"omitempty,gte=0,lte=365"`
	BufferBefore     *int   `yaml:"buffer_before" validate:"omitempty,gte=0,lte=240"`
	BufferAfter      *int   `yaml:"buffer_after" validate:"omitempty,gte=0,lte=240"`
}

// Roster is the set of users whose sessions are scanned.
type Roster struct {
	Users []RosterUser `yaml:"users" validate:"dive"`

	profiles []application.UserProfile
	byEmail  map[string]int
}

// LoadRoster reads and validates the roster at path.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return ParseRoster(data)
}

// ParseRoster decodes and validates a roster document. Field problems are
// reported as an *application.ValidationError keyed by YAML path.
func ParseRoster(data []byte) (*Roster, error) {
	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}

	vErr := &application.ValidationError{FieldErrors: map[string]string{}}
	if err := newValidator().Struct(roster); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, fmt.Errorf("validate roster: %w", err)
		}
		for _, fe := range fieldErrs {
			vErr.FieldErrors[fieldPath(fe)] = fmt.Sprintf("failed %q validation", fe.Tag())
		}
	}

	roster.byEmail = make(map[string]int, len(roster.Users))
	for i, user := range roster.Users {
		email := strings.ToLower(strings.TrimSpace(user.Email))
		if email == "" {
			continue
		}
		if _, dup := roster.byEmail[email]; dup {
			vErr.FieldErrors[fmt.Sprintf("users[%d].email", i)] = "duplicate email"
			continue
		}
		roster.byEmail[email] = len(roster.profiles)
		roster.profiles = append(roster.profiles, user.profile(email))
	}

	if vErr.HasErrors() {
		return nil, vErr
	}
	return &roster, nil
}

// Profiles returns the roster as application profiles, in file order.
func (r *Roster) Profiles() []application.UserProfile {
	if r == nil {
		return nil
	}
	out := make([]application.UserProfile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

// Lookup finds a user by email, ignoring case.
func (r *Roster) Lookup(email string) (application.UserProfile, bool) {
	if r == nil {
		return application.UserProfile{}, false
	}
	idx, ok := r.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return application.UserProfile{}, false
	}
	return r.profiles[idx], true
}

func (u RosterUser) profile(email string) application.UserProfile {
	return application.UserProfile{
		Email:            email,
		AutoBooking:      u.AutoBooking,
		WindowPastDays:   intOr(u.WindowPastDays, DefaultWindowPastDays),
		WindowFutureDays: intOr(u.WindowFutureDays, DefaultWindowFutureDays),
		BufferBefore:     intOr(u.BufferBefore, DefaultBufferBefore),
		BufferAfter:      intOr(u.BufferAfter, DefaultBufferAfter),
	}
}

func intOr(value *int, fallback int) int {
	if value == nil {
		return fallback
	}
	return *value
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldPath strips the root type from a namespace such as
// "Roster.users[0].email".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		ns = ns[idx+1:]
	}
	return ns
}
