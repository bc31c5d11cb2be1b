package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestIsStandaloneTxnError(t *testing.T) {
	standalone := mongo.CommandError{
		Code:    20,
		Message: "Transaction numbers are only allowed on a replica set member or mongos",
	}
	require.True(t, isStandaloneTxnError(standalone))
	require.True(t, isStandaloneTxnError(fmt.Errorf("batch: %w", standalone)))
	require.True(t, isStandaloneTxnError(mongo.CommandError{
		Code:    0,
		Message: "Transaction numbers are only allowed on a replica set member or mongos",
	}))

	// A transaction that ran and failed must not look like a missing
	// transaction capability.
	require.False(t, isStandaloneTxnError(mongo.CommandError{Code: 11000, Message: "duplicate key error"}))
	require.False(t, isStandaloneTxnError(mongo.BulkWriteException{}))
	require.False(t, isStandaloneTxnError(errors.New("connection reset")))
	require.False(t, isStandaloneTxnError(nil))
}
