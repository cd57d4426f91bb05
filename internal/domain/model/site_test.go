package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSiteValidate(t *testing.T) {
	tests := []struct {
		name    string
		site    Site
		wantErr string
	}{
		{name: "valid", site: Site{ID: " store-12 ", Name: " Store 12 "}},
		{name: "missing id", site: Site{Name: "Store"}, wantErr: "site id is required"},
		{name: "missing name", site: Site{ID: "s1"}, wantErr: "site name is required"},
		{name: "name too long", site: Site{ID: "s1", Name: strings.Repeat("x", 256)}, wantErr: "255 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.site.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "store-12", tt.site.ID)
			assert.Equal(t, "Store 12", tt.site.Name)
		})
	}
}
