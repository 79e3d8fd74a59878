package alerting

import (
	"encoding/json"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/Moonsong-Labs/storage-hub-sub006/journal"
	"github.com/Moonsong-Labs/storage-hub-sub006/journal/mockjournal"
)

func TestAlerting(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	j := mockjournal.NewMockJournal(mockCtrl)

	a := NewAlertingSystem(j)

	j.EXPECT().RegisterEventType("s1", "b1").Return(journal.EventType{System: "s1", Event: "b1"})
	al1 := a.AddAlertType("s1", "b1")

	j.EXPECT().RegisterEventType("s2", "b2").Return(journal.EventType{System: "s2", Event: "b2"})
	al2 := a.AddAlertType("s2", "b2")

	// registering twice is idempotent and does not touch the journal
	require.Equal(t, al1, a.AddAlertType("s1", "b1"))

	l := a.GetAlerts()
	require.Len(t, l, 2)
	require.Equal(t, al1, l[0].Type)
	require.Equal(t, al2, l[1].Type)

	for _, alert := range l {
		require.False(t, alert.Active)
		require.Nil(t, alert.LastActive)
		require.Nil(t, alert.LastResolved)
	}

	j.EXPECT().RecordEvent(a.alerts[al1].journalType, gomock.Any())
	a.Raise(al1, "test")

	for _, alert := range l { // check for no magic mutations
		require.False(t, alert.Active)
		require.Nil(t, alert.LastActive)
		require.Nil(t, alert.LastResolved)
	}

	l = a.GetAlerts()
	require.Len(t, l, 2)
	require.Equal(t, al1, l[0].Type)
	require.Equal(t, al2, l[1].Type)

	require.True(t, l[0].Active)
	require.Equal(t, 1, l[0].Raised)
	require.NotNil(t, l[0].LastActive)
	require.Equal(t, "raised", l[0].LastActive.Type)
	require.Equal(t, json.RawMessage(`"test"`), l[0].LastActive.Message)
	require.Nil(t, l[0].LastResolved)
	require.True(t, a.IsRaised(al1))

	require.False(t, l[1].Active)
	require.Nil(t, l[1].LastActive)
	require.Nil(t, l[1].LastResolved)

	// resolving an inactive alert records nothing
	a.Resolve(al2, "noop")
	require.False(t, a.IsRaised(al2))

	j.EXPECT().RecordEvent(a.alerts[al1].journalType, gomock.Any())
	a.Resolve(al1, map[string]string{"scope": "bsp"})

	l = a.GetAlerts()
	require.False(t, l[0].Active)
	require.Zero(t, l[0].Raised)
	require.NotNil(t, l[0].LastResolved)
	require.Equal(t, "resolved", l[0].LastResolved.Type)
	require.JSONEq(t, `{"scope":"bsp"}`, string(l[0].LastResolved.Message))
}

func TestRaiseUnknownAlert(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()
	j := mockjournal.NewMockJournal(mockCtrl)

	a := NewAlertingSystem(j)
	a.Raise(AlertType{System: "nope", Subsystem: "nope"}, "ignored")
	require.Empty(t, a.GetAlerts())
}
