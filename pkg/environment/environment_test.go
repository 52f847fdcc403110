package environment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/billingsync/pkg/environment"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want environment.Environment
	}{
		{"production", environment.Production},
		{"PROD", environment.Production},
		{" stage ", environment.Staging},
		{"staging", environment.Staging},
		{"dev", environment.Development},
		{"", environment.Development},
		{"qa", environment.Development},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, environment.Parse(tt.in))
		})
	}
}

func TestContext(t *testing.T) {
	t.Parallel()

	assert.Equal(t, environment.Development, environment.FromContext(context.Background()))

	ctx := environment.WithContext(context.Background(), environment.Production)
	assert.True(t, environment.FromContext(ctx).IsProduction())
}
