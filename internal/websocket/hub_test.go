package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notesapp/internal/crypto"
	"notesapp/internal/metrics"
)

func receive(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case data, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Message{}
	}
}

func TestPublishSkipsOriginDevice(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	laptop := hub.Subscribe(1, "laptop")
	phone := hub.Subscribe(1, "phone")
	other := hub.Subscribe(2, "laptop")

	n, err := hub.Publish(1, Event{Type: EventNoteUpdated, NoteID: "n1", Version: 3, OriginDevice: "laptop"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msg := receive(t, phone)
	assert.Equal(t, EventNoteUpdated, msg.Type)
	assert.Equal(t, "n1", msg.Data["note_id"])
	assert.Equal(t, float64(3), msg.Data["version"])
	assert.Equal(t, "laptop", msg.Data["origin_device"])
	assert.NotEmpty(t, msg.MessageID)

	assert.Len(t, laptop.C(), 0)
	assert.Len(t, other.C(), 0)
}

func TestPublishWithoutOriginReachesEveryDevice(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	a := hub.Subscribe(1, "a")
	b := hub.Subscribe(1, "b")

	n, err := hub.Publish(1, Event{Type: EventTagDeleted})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	receive(t, a)
	receive(t, b)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	m := metrics.New()
	hub := NewHub(zap.NewNop(), m)
	sub := hub.Subscribe(1, "a")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WSConnections))

	sub.Unsubscribe()
	sub.Unsubscribe()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.False(t, hub.IsUserConnected(1))
	assert.Equal(t, 0, hub.GetConnectedClientCount())
	assert.Equal(t, float64(0), testutil.ToFloat64(m.WSConnections))

	n, err := hub.Publish(1, Event{Type: EventNoteDeleted})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPausedSubscriptionIsSkipped(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	sub := hub.Subscribe(1, "a")
	sub.SetPaused(true)

	n, _ := hub.Publish(1, Event{Type: EventNoteCreated})
	assert.Zero(t, n)

	sub.SetPaused(false)
	n, _ = hub.Publish(1, Event{Type: EventNoteCreated})
	assert.Equal(t, 1, n)
}

func TestFullBufferDropsSubscription(t *testing.T) {
	m := metrics.New()
	hub := NewHub(zap.NewNop(), m)
	slow := hub.Subscribe(1, "slow")

	for i := 0; i < sendBufferSize; i++ {
		_, err := hub.Publish(1, Event{Type: EventNoteUpdated})
		require.NoError(t, err)
	}
	assert.True(t, hub.IsUserConnected(1))

	_, err := hub.Publish(1, Event{Type: EventNoteUpdated})
	require.NoError(t, err)
	assert.False(t, hub.IsUserConnected(1))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WSDroppedMessages))

	// 缓冲中的消息仍可读出，随后通道关闭
	count := 0
	for range slow.C() {
		count++
	}
	assert.Equal(t, sendBufferSize, count)
}

func TestHubClose(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	a := hub.Subscribe(1, "a")
	b := hub.Subscribe(2, "b")

	hub.Close()

	_, okA := <-a.C()
	_, okB := <-b.C()
	assert.False(t, okA)
	assert.False(t, okB)
	assert.Equal(t, 0, hub.GetConnectedClientCount())
}

func TestDisconnectDevice(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	phone1 := hub.Subscribe(1, "phone")
	phone2 := hub.Subscribe(1, "phone")
	laptop := hub.Subscribe(1, "laptop")

	assert.True(t, hub.IsDeviceConnected(1, "phone"))
	assert.Equal(t, 2, hub.DisconnectDevice(1, "phone"))
	assert.False(t, hub.IsDeviceConnected(1, "phone"))
	assert.True(t, hub.IsDeviceConnected(1, "laptop"))

	_, ok1 := <-phone1.C()
	_, ok2 := <-phone2.C()
	assert.False(t, ok1)
	assert.False(t, ok2)
	assert.Equal(t, 0, hub.DisconnectDevice(1, "phone"))

	laptop.Unsubscribe()
	assert.Equal(t, 0, hub.GetConnectedClientCount())
}

func newWSServer(t *testing.T, hub *Hub, cm *crypto.Manager) *httptest.Server {
	t.Helper()
	upgrader := NewUpgrader(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sub := hub.Subscribe(1, r.URL.Query().Get("device_id"))
		NewClient(conn, sub, NewEncryptor(cm), zap.NewNop()).Run()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, device string) *gorillawebsocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?device_id=" + device
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *gorillawebsocket.Conn) (int, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return mt, data
}

func TestClientEndToEnd(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	srv := newWSServer(t, hub, nil)

	laptop := dial(t, srv, "laptop")
	phone := dial(t, srv, "phone")
	require.Eventually(t, func() bool { return hub.GetConnectedClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	_, err := hub.Publish(1, Event{Type: EventNoteUpdated, NoteID: "n1", Version: 2, OriginDevice: "laptop"})
	require.NoError(t, err)

	mt, data := readMessage(t, phone)
	assert.Equal(t, gorillawebsocket.TextMessage, mt)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, EventNoteUpdated, msg.Type)

	// 发起设备收不到事件：第一条消息应当是 pong
	require.NoError(t, laptop.WriteJSON(Message{Type: msgPing}))
	_, data = readMessage(t, laptop)
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, msgPong, msg.Type)

	laptop.Close()
	require.Eventually(t, func() bool { return hub.GetConnectedClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestClientEncryptedHandshake(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cm, err := crypto.NewManager(key)
	require.NoError(t, err)

	hub := NewHub(zap.NewNop(), nil)
	srv := newWSServer(t, hub, cm)
	conn := dial(t, srv, "tablet")
	require.Eventually(t, func() bool { return hub.IsUserConnected(1) }, 2*time.Second, 10*time.Millisecond)

	// 握手前的事件保留在缓冲区
	_, err = hub.Publish(1, Event{Type: EventNoteCreated, NoteID: "n9"})
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(HandshakeReq{Type: msgHandshake, Encryption: true}))

	var gotHandshake, gotEvent bool
	for i := 0; i < 2; i++ {
		mt, data := readMessage(t, conn)
		switch mt {
		case gorillawebsocket.TextMessage:
			var resp HandshakeResp
			require.NoError(t, json.Unmarshal(data, &resp))
			assert.True(t, resp.EncryptionEnabled)
			assert.NotEmpty(t, resp.ServerNonce)
			gotHandshake = true
		case gorillawebsocket.BinaryMessage:
			plain, err := cm.DecryptBytes(data)
			require.NoError(t, err)
			var msg Message
			require.NoError(t, json.Unmarshal(plain, &msg))
			assert.Equal(t, "n9", msg.Data["note_id"])
			gotEvent = true
		}
	}
	assert.True(t, gotHandshake)
	assert.True(t, gotEvent)
}

func TestEncryptorRejectsPlainClient(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cm, err := crypto.NewManager(key)
	require.NoError(t, err)

	we := NewEncryptor(cm)
	err = we.ProcessHandshake([]byte(`{"type":"handshake","encryption":false}`))
	assert.ErrorIs(t, err, ErrEncryptionRequired)

	err = we.ProcessHandshake([]byte(`{"type":"hello"}`))
	assert.ErrorIs(t, err, ErrInvalidHandshake)

	select {
	case <-we.Ready():
		t.Fatal("encryptor should not be ready")
	default:
	}
}

func TestUpgraderOrigins(t *testing.T) {
	up := NewUpgrader([]string{"https://notes.example.com"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, up.CheckOrigin(r))
	r.Header.Set("Origin", "https://notes.example.com")
	assert.True(t, up.CheckOrigin(r))
}
