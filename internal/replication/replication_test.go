package replication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type keyedString string

func (k keyedString) Key() string { return string(k) }

func newTestStore() *Store[keyedString] {
	return NewStore(NewArchive[keyedString](), time.Minute)
}

func TestStoreInsertAndObjects(t *testing.T) {
	store := newTestStore()
	store.Insert(keyedString("a"))
	store.Insert(keyedString("b"))

	require.ElementsMatch(t, []keyedString{"a", "b"}, store.Objects())
}

func TestStoreDeleteRemovesFromObjects(t *testing.T) {
	store := newTestStore()
	store.Insert(keyedString("a"))
	require.NoError(t, store.Delete(keyedString("a")))
	require.Empty(t, store.Objects())
}

func TestStoreDeleteUnknownKeyIsNotFound(t *testing.T) {
	store := newTestStore()
	err := store.Delete(keyedString("missing"))
	require.Error(t, err)
}

func TestGetUpdatesSinceReportsNewObjects(t *testing.T) {
	store := newTestStore()
	store.Insert(keyedString("a"))
	update := store.GetUpdatesSince(0)

	require.ElementsMatch(t, []keyedString{"a"}, update.Created)
	require.Empty(t, update.Deleted)
	require.Equal(t, 1, update.ToVersion)
}

func TestGetUpdatesSinceCancelsChurnWithinInterval(t *testing.T) {
	store := newTestStore()
	store.Insert(keyedString("a"))
	require.NoError(t, store.Delete(keyedString("a")))

	update := store.GetUpdatesSince(0)
	require.Empty(t, update.Created)
	require.Empty(t, update.Deleted)
}

func TestGetUpdatesSinceCancelsDeleteThenReinsertOfIdenticalObject(t *testing.T) {
	// Scenario S5: insert r, snapshot v1, delete r, insert a structurally
	// identical r' (same Key()), snapshot v2. GetUpdatesSince(v1) must report
	// neither the stale delete nor the fresh insert, since from a replica's
	// perspective nothing about the live set changed across the interval.
	store := newTestStore()
	store.Insert(keyedString("a"))
	v1 := store.GetUpdatesSince(0).ToVersion

	require.NoError(t, store.Delete(keyedString("a")))
	store.Insert(keyedString("a"))
	v2 := store.GetUpdatesSince(0).ToVersion

	update := store.GetUpdatesSince(v1)
	require.Equal(t, v2, update.ToVersion)
	require.Empty(t, update.Created)
	require.Empty(t, update.Deleted)

	require.ElementsMatch(t, []keyedString{"a"}, store.Objects(), "the reinserted object must still be live")
}

func TestGetUpdatesSinceReportsDeletionOfOlderObject(t *testing.T) {
	store := newTestStore()
	store.Insert(keyedString("a"))
	base := store.GetUpdatesSince(0).ToVersion

	require.NoError(t, store.Delete(keyedString("a")))
	update := store.GetUpdatesSince(base)

	require.Empty(t, update.Created)
	require.ElementsMatch(t, []keyedString{"a"}, update.Deleted)
}

type acceptAllValidator struct{}

func (acceptAllValidator) IsValid(keyedString) bool { return true }

type rejectAllValidator struct{}

func (rejectAllValidator) IsValid(keyedString) bool { return false }

func TestReplicaAppliesValidUpdate(t *testing.T) {
	store := newTestStore()
	store.Insert(keyedString("a"))

	replica := NewReplica[keyedString](store, acceptAllValidator{}, nil)
	replica.Update()

	require.ElementsMatch(t, []keyedString{"a"}, replica.Objects())
	require.Equal(t, 1, replica.Version())
}

func TestReplicaDiscardsUpdateFailingValidation(t *testing.T) {
	store := newTestStore()
	store.Insert(keyedString("a"))

	replica := NewReplica[keyedString](store, rejectAllValidator{}, nil)
	replica.Update()

	require.Empty(t, replica.Objects())
	require.Equal(t, 0, replica.Version())
}

func TestReplicaUpdateIsNoOpWhileValid(t *testing.T) {
	store := newTestStore()
	replica := NewReplica[keyedString](store, nil, nil)
	replica.Update()

	store.Insert(keyedString("a"))
	// The replica is still within its staleness bound (maxLag is a minute),
	// so this Update() must not pull the new object.
	replica.Update()

	require.Empty(t, replica.Objects())
}

func TestReplicaOnUpdateCallback(t *testing.T) {
	store := newTestStore()
	store.Insert(keyedString("a"))

	var gotCreated []keyedString
	replica := NewReplica[keyedString](store, nil, func(created, deleted []keyedString) {
		gotCreated = created
	})
	replica.Update()

	require.ElementsMatch(t, []keyedString{"a"}, gotCreated)
}
