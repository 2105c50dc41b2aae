package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeBname(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/opt/shard", "opt_shard"},
		{"opt/shard", "opt_shard"},
		{"/", "root"},
		{"", "root"},
		{"/x", "x"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, sanitizeBname(c.in), "input %q", c.in)
	}
}
