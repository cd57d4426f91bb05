package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Platform identifies the push channel family a device registered with.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Platform string

// DeviceStatus is the liveness state of a device as last reported by its agent.
type DeviceStatus string

const (
	PlatformAndroid   Platform = "android"
	PlatformIOS       Platform = "ios"
	PlatformWindows   Platform = "windows"
	PlatformLinux     Platform = "linux"
	PlatformSimulated Platform = "simulated"

	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
	DeviceStatusError   DeviceStatus = "error"
)

// Valid returns true if the platform is known.
func (p Platform) Valid() bool {
	switch p {
	case PlatformAndroid, PlatformIOS, PlatformWindows, PlatformLinux, PlatformSimulated:
		return true
	}
	return false
}

// UnmarshalText implements encoding.TextUnmarshaler for Platform.
func (p *Platform) UnmarshalText(text []byte) error {
	v := Platform(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid Platform: %q", v)
	}
	*p = v
	return nil
}

// Valid returns true if the status is known.
func (s DeviceStatus) Valid() bool {
	return s == DeviceStatusOnline || s == DeviceStatusOffline || s == DeviceStatusError
}

// Device is a registered point-of-sale or OT device.
type Device struct {
	ID                   string          `json:"device_id"                       db:"id"`
	SiteID               string          `json:"site_id"                         db:"site_id"`
	Name                 string          `json:"name"                            db:"name"`
	DeviceType           string          `json:"device_type"                     db:"device_type"`
	Segment              *string         `json:"segment,omitempty"               db:"segment"`
	Platform             Platform        `json:"platform"                        db:"platform"`
	PushToken            *string         `json:"-"                               db:"push_token"`
	Status               DeviceStatus    `json:"status"                          db:"status"`
	LastSeen             *time.Time      `json:"last_seen,omitempty"             db:"last_seen"`
	ConfigVersion        *string         `json:"config_version,omitempty"        db:"config_version"`
	HealthURL            *string         `json:"health_url,omitempty"            db:"health_url"`
	Attributes           json.RawMessage `json:"attributes,omitempty"            db:"attributes"`
	NeedsReregistration  bool            `json:"needs_reregistration"            db:"needs_reregistration"`
	ReregistrationReason *string         `json:"reregistration_reason,omitempty" db:"reregistration_reason"`
	CreatedAt            time.Time       `json:"created_at"                      db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"                      db:"updated_at"`
}

// Addressable reports whether the device can currently receive pushes.
func (d *Device) Addressable() bool {
	if d == nil || d.NeedsReregistration || !d.Platform.Valid() {
		return false
	}
	if d.Platform == PlatformSimulated {
		return true
	}
	return d.PushToken != nil && *d.PushToken != ""
}

// Target builds the ephemeral dispatch target for the device.
func (d *Device) Target() DeviceTarget {
	t := DeviceTarget{
		DeviceID:      d.ID,
		SiteID:        d.SiteID,
		Platform:      d.Platform,
		ConfigVersion: d.ConfigVersion,
		HealthURL:     d.HealthURL,
	}
	if d.PushToken != nil {
		t.PushToken = *d.PushToken
	}
	return t
}

// Document returns the JSON-shaped view used by segment selectors.
func (d *Device) Document() map[string]any {
	doc := map[string]any{
		"device_id":   d.ID,
		"site_id":     d.SiteID,
		"name":        d.Name,
		"device_type": d.DeviceType,
		"platform":    string(d.Platform),
		"status":      string(d.Status),
	}
	if d.Segment != nil {
		doc["segment"] = *d.Segment
	}
	if d.ConfigVersion != nil {
		doc["config_version"] = *d.ConfigVersion
	}
	if len(d.Attributes) > 0 {
		var attrs map[string]any
		if err := json.Unmarshal(d.Attributes, &attrs); err == nil {
			doc["attributes"] = attrs
		}
	}
	return doc
}

// DeviceTarget is a resolved device plus the channel it should be reached on.
// It is computed per dispatch and never persisted on its own.
type DeviceTarget struct {
	DeviceID      string   `json:"device_id"`
	SiteID        string   `json:"site_id"`
	Platform      Platform `json:"platform"`
	PushToken     string   `json:"-"`
	ConfigVersion *string  `json:"config_version,omitempty"`
	HealthURL     *string  `json:"health_url,omitempty"`
}

// DeviceStateHistory records one device status transition.
type DeviceStateHistory struct {
	ID            string       `json:"id"             db:"id"`
	DeviceID      string       `json:"device_id"      db:"device_id"`
	PreviousState DeviceStatus `json:"previous_state" db:"previous_state"`
	NewState      DeviceStatus `json:"new_state"      db:"new_state"`
	Reason        string       `json:"reason"         db:"reason"`
	ChangedBy     string       `json:"changed_by"     db:"changed_by"`
	CreatedAt     time.Time    `json:"created_at"     db:"created_at"`
}

// RegisterDeviceRequest (re)binds a device to a push channel.
type RegisterDeviceRequest struct {
	DeviceID  string   `json:"-"`
	Platform  Platform `json:"platform"`
	PushToken string   `json:"push_token"`
	HealthURL *string  `json:"health_url,omitempty"`
}

// Validate validates the registration request.
func (r *RegisterDeviceRequest) Validate() error {
	if strings.TrimSpace(r.DeviceID) == "" {
		return errors.New("device_id is required")
	}
	if !r.Platform.Valid() {
		return errors.New("platform must be one of android, ios, windows, linux, simulated")
	}
	if r.Platform != PlatformSimulated && strings.TrimSpace(r.PushToken) == "" {
		return errors.New("push_token is required")
	}
	if len(r.PushToken) > 4096 {
		return errors.New("push_token is too long")
	}
	return nil
}
