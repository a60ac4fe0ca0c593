package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetAuthorityOverrides_TakesPrecedence(t *testing.T) {
	defer SetAuthorityOverrides(nil)

	SetAuthorityOverrides(map[string]int{"OTX": 20})
	assert.Equal(t, 20, AuthorityOf("otx"))
	assert.Equal(t, 10, AuthorityOf("cisa_kev"), "unrelated source keeps compiled-in weight")
}

func TestSetAuthorityOverrides_EmptyClears(t *testing.T) {
	SetAuthorityOverrides(map[string]int{"otx": 20})
	SetAuthorityOverrides(nil)
	assert.Equal(t, 7, AuthorityOf("otx"), "clearing overrides reverts to compiled-in table")
}
