package socketio_test

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"driverlink/internal/adapter/memory"
	"driverlink/internal/adapter/socketio"
	"driverlink/internal/app"
	"driverlink/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealtimeService_OverSocketIO(t *testing.T) {
	release := make(chan struct{})
	fs := newFakeServer(t, func(fs *fakeServer, conn *websocket.Conn, n int) {
		deadline := time.Now().Add(2 * time.Second)
		for !contains(fs.messages(), `42["join","42"]`) && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`42["notification",{"_id":"n1","title":"Job offer","message":"Flat tyre on A1"}]`))
		<-release
	})
	defer close(release)

	dialer, err := socketio.NewDialer(fs.url(), fastOptions(), nil)
	require.NoError(t, err)
	inbox := app.NewNotificationService(memory.New(), nil)
	rt := app.NewRealtimeService(dialer, inbox, nil)
	t.Cleanup(rt.Disconnect)

	got := make(chan domain.Notification, 1)
	inbox.OnNotification(func(n domain.Notification) { got <- n })

	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"userId":42}`))
	rt.Connect("abc." + payload + ".sig")

	select {
	case n := <-got:
		assert.Equal(t, "n1", n.ID)
		assert.Equal(t, "Job offer", n.Title)
	case <-time.After(5 * time.Second):
		t.Fatal("notification never arrived")
	}

	st := rt.Status()
	assert.True(t, st.Connected)
	assert.Equal(t, domain.ConnConnected, st.State)

	unread, err := inbox.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	rt.Disconnect()
	rt.Disconnect()
	assert.Equal(t, domain.ConnDisconnected, rt.Status().State)
}
