package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBranchName(t *testing.T) {
	assert.Equal(t, "epic/e-abc123", BranchName("e-abc123"))
}
