package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuditEventCategory(t *testing.T) {
	assert.Equal(t, CategoryCompliance, EventAccountLinkConflictResolved.Category())
	assert.Equal(t, CategorySecurity, EventAccountLinkCleanupFailed.Category())
	assert.Equal(t, CategorySecurity, EventAccountLinkFailed.Category())
	assert.Equal(t, CategoryOperations, EventAccountLinkRepointed.Category())
	assert.Equal(t, CategoryOperations, AuditEvent("something_else").Category())
}
