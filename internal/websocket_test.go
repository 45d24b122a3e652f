package internal_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/boss-battle/internal"
)

// wsEnvelope 測試端視角的外層訊息
type wsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// wsClient 對服務端的一條 WebSocket 測試連線
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

// hubServer 起一個只掛 WebSocket 入口的測試服務
func hubServer(t *testing.T, cfg *internal.Config) (*httptest.Server, *internal.Hub, *internal.Manager) {
	t.Helper()
	manager := internal.NewManager(testRules(cfg), testLogger())
	hub := internal.NewHub(manager, nil, testLogger())

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		server.Close()
		hub.Stop()
		manager.Stop()
	})
	return server, hub, manager
}

func dialClient(t *testing.T, server *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(event string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// next 讀取下一則訊息；超時視為測試失敗
func (c *wsClient) next() wsEnvelope {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env wsEnvelope
	require.NoError(c.t, c.conn.ReadJSON(&env), "expected another message")
	return env
}

// waitFor 跳過不相關的訊息直到收到指定事件
func (c *wsClient) waitFor(event string) json.RawMessage {
	c.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env := c.next()
		if env.Event == event {
			return env.Data
		}
	}
	c.t.Fatalf("never received %q", event)
	return nil
}

// join 完成加入流程並返回分配到的玩家 ID
func (c *wsClient) join(roomCode, name string) string {
	c.t.Helper()
	c.send(internal.EvJoinRoom, map[string]string{"playerName": name, "roomCode": roomCode})
	var success struct {
		PlayerID string `json:"playerId"`
		RoomCode string `json:"roomCode"`
	}
	require.NoError(c.t, json.Unmarshal(c.waitFor(internal.EvJoinRoomSuccess), &success))
	require.NotEmpty(c.t, success.PlayerID)
	return success.PlayerID
}

func TestHub_JoinFlow(t *testing.T) {
	server, hub, _ := hubServer(t, testConfig())

	c1 := dialClient(t, server)
	id1 := c1.join("abcd", "alice")

	var lobby internal.LobbySnapshot
	require.NoError(t, json.Unmarshal(c1.waitFor(internal.EvRoomUpdate), &lobby))
	assert.Equal(t, "ABCD", lobby.RoomCode)
	assert.Equal(t, id1, lobby.HostID)
	require.Len(t, lobby.Players, 1)
	assert.Nil(t, lobby.Players[0].Job)

	// 第二位加入：雙方都收到更新後的大廳
	c2 := dialClient(t, server)
	c2.join("ABCD", "bob")

	require.NoError(t, json.Unmarshal(c1.waitFor(internal.EvRoomUpdate), &lobby))
	assert.Len(t, lobby.Players, 2)
	require.NoError(t, json.Unmarshal(c2.waitFor(internal.EvRoomUpdate), &lobby))
	assert.Len(t, lobby.Players, 2)

	assert.Equal(t, 2, hub.ConnectionCount())
}

func TestHub_DuplicateJoinRejected(t *testing.T) {
	server, _, _ := hubServer(t, testConfig())

	c := dialClient(t, server)
	c.join("ABCD", "alice")

	c.send(internal.EvJoinRoom, map[string]string{"playerName": "alice", "roomCode": "ABCD"})
	var errMsg struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(c.waitFor(internal.EvErrorMessage), &errMsg))
	assert.Equal(t, "DUPLICATE_JOIN", errMsg.Code)
}

func TestHub_ActionBeforeJoinRejected(t *testing.T) {
	server, _, _ := hubServer(t, testConfig())

	c := dialClient(t, server)
	c.send(internal.EvSelectJob, map[string]string{"jobId": "warrior"})

	var errMsg struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(c.waitFor(internal.EvErrorMessage), &errMsg))
	assert.Equal(t, "PLAYER_NOT_FOUND", errMsg.Code)
}

func TestHub_MalformedMessageRejected(t *testing.T) {
	server, _, _ := hubServer(t, testConfig())

	c := dialClient(t, server)
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	var errMsg struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(c.waitFor(internal.EvErrorMessage), &errMsg))
	assert.Equal(t, "INVALID_INPUT", errMsg.Code)

	c.send("teleport", map[string]any{})
	require.NoError(t, json.Unmarshal(c.waitFor(internal.EvErrorMessage), &errMsg))
	assert.Equal(t, "INVALID_INPUT", errMsg.Code)
}

// 完整對局：加入、選職業、就緒、攻擊到獲勝
func TestHub_FullGameToVictory(t *testing.T) {
	cfg := testConfig()
	quietBoss(cfg)
	cfg.Game.Boss.MaxHP = 14 // warrior 一刀的傷害
	server, _, _ := hubServer(t, cfg)

	c := dialClient(t, server)
	c.join("ABCD", "alice")
	c.send(internal.EvSelectJob, map[string]string{"jobId": "warrior"})
	c.waitFor(internal.EvRoomUpdate)

	c.send(internal.EvSetReady, map[string]bool{"isReady": true})
	var start internal.GameStartPayload
	require.NoError(t, json.Unmarshal(c.waitFor(internal.EvGameStart), &start))
	assert.Equal(t, 14, start.InitialBossState.HP)
	require.Len(t, start.InitialPlayerStates, 1)
	assert.Equal(t, "warrior", start.InitialPlayerStates[0].Job)

	// tick 迴圈開始推送狀態
	var snap internal.GameSnapshot
	require.NoError(t, json.Unmarshal(c.waitFor(internal.EvGameStateUpdate), &snap))
	assert.Equal(t, 14, snap.Boss.HP)

	// 朝魔王出手：先收到命中廣播，再收到勝利
	c.send(internal.EvPlayerAttack, map[string]any{"type": "normal", "aimX": 50, "aimY": 50})

	var damaged internal.BossDamagedPayload
	require.NoError(t, json.Unmarshal(c.waitFor(internal.EvBossDamaged), &damaged))
	assert.Equal(t, 14, damaged.DamageAmount)
	assert.Equal(t, 0, damaged.RemainingHP)

	var over struct {
		Result string `json:"result"`
	}
	require.NoError(t, json.Unmarshal(c.waitFor(internal.EvGameOver), &over))
	assert.Equal(t, internal.ResultWin, over.Result)

	// 終局後迴圈退出，不再有狀態推送
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var env wsEnvelope
	err := c.conn.ReadJSON(&env)
	require.Error(t, err, "no messages expected after gameOver, got %q", env.Event)
}

// 兩位玩家同場：gameStart 恰好一次，動作之間互相可見
func TestHub_TwoPlayerGameStartOnce(t *testing.T) {
	cfg := testConfig()
	quietBoss(cfg)
	server, _, _ := hubServer(t, cfg)

	c1 := dialClient(t, server)
	c1.join("ABCD", "alice")
	c2 := dialClient(t, server)
	c2.join("ABCD", "bob")

	c1.send(internal.EvSelectJob, map[string]string{"jobId": "warrior"})
	c2.send(internal.EvSelectJob, map[string]string{"jobId": "mage"})
	c1.send(internal.EvSetReady, map[string]bool{"isReady": true})
	c2.send(internal.EvSetReady, map[string]bool{"isReady": true})

	for _, c := range []*wsClient{c1, c2} {
		var start internal.GameStartPayload
		require.NoError(t, json.Unmarshal(c.waitFor(internal.EvGameStart), &start))
		assert.Len(t, start.InitialPlayerStates, 2)

		// 之後只剩狀態推送，不會出現第二次 gameStart
		for i := 0; i < 10; i++ {
			env := c.next()
			assert.NotEqual(t, internal.EvGameStart, env.Event)
		}
	}
}

func TestHub_LobbyActionDuringGameRejected(t *testing.T) {
	cfg := testConfig()
	quietBoss(cfg)
	server, _, _ := hubServer(t, cfg)

	c := dialClient(t, server)
	c.join("ABCD", "alice")
	c.send(internal.EvSelectJob, map[string]string{"jobId": "warrior"})
	c.send(internal.EvSetReady, map[string]bool{"isReady": true})
	c.waitFor(internal.EvGameStart)

	// 戰鬥中改職業被拒，連線不中斷
	c.send(internal.EvSelectJob, map[string]string{"jobId": "mage"})
	var errMsg struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(c.waitFor(internal.EvErrorMessage), &errMsg))
	assert.Equal(t, "INVALID_STATE", errMsg.Code)

	c.waitFor(internal.EvGameStateUpdate)
}

func TestHub_SkillFeedbackOnlyToCaster(t *testing.T) {
	cfg := testConfig()
	quietBoss(cfg)
	server, _, _ := hubServer(t, cfg)

	c1 := dialClient(t, server)
	c1.join("ABCD", "alice")
	c2 := dialClient(t, server)
	c2.join("ABCD", "bob")

	c1.send(internal.EvSelectJob, map[string]string{"jobId": "mage"})
	c2.send(internal.EvSelectJob, map[string]string{"jobId": "warrior"})
	c1.send(internal.EvSetReady, map[string]bool{"isReady": true})
	c2.send(internal.EvSetReady, map[string]bool{"isReady": true})
	c1.waitFor(internal.EvGameStart)
	c2.waitFor(internal.EvGameStart)

	c1.send(internal.EvPlayerAttack, map[string]any{
		"type": "skill", "skillId": "fireball", "aimX": 50, "aimY": 50,
	})

	var fb internal.AttackFeedbackPayload
	require.NoError(t, json.Unmarshal(c1.waitFor(internal.EvAttackFeedback), &fb))
	assert.True(t, fb.Success)

	// 冷卻期間再施放：回饋帶剩餘秒數
	c1.send(internal.EvPlayerAttack, map[string]any{
		"type": "skill", "skillId": "fireball", "aimX": 50, "aimY": 50,
	})
	require.NoError(t, json.Unmarshal(c1.waitFor(internal.EvAttackFeedback), &fb))
	assert.False(t, fb.Success)
	assert.Equal(t, "OnCooldown", fb.Reason)
	assert.Greater(t, fb.CooldownRemaining, 0.0)

	// 非施放者只看到狀態推送，不會收到別人的技能回饋
	for i := 0; i < 10; i++ {
		env := c2.next()
		assert.NotEqual(t, internal.EvAttackFeedback, env.Event)
	}
}

func TestHub_DisconnectInLobbyBroadcasts(t *testing.T) {
	server, hub, manager := hubServer(t, testConfig())

	c1 := dialClient(t, server)
	c1.join("ABCD", "alice")
	c2 := dialClient(t, server)
	id2 := c2.join("ABCD", "bob")
	c1.waitFor(internal.EvRoomUpdate) // bob 加入的廣播

	require.NoError(t, c2.conn.Close())

	// 留下的人收到大廳更新與離線通知
	var lobby internal.LobbySnapshot
	require.NoError(t, json.Unmarshal(c1.waitFor(internal.EvRoomUpdate), &lobby))
	assert.Len(t, lobby.Players, 1)

	var gone struct {
		PlayerID string `json:"playerId"`
	}
	require.NoError(t, json.Unmarshal(c1.waitFor(internal.EvPlayerDisconnected), &gone))
	assert.Equal(t, id2, gone.PlayerID)

	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 1
	}, time.Second, 5*time.Millisecond)

	room, ok := manager.GetRoom("ABCD")
	require.True(t, ok)
	assert.Equal(t, 1, room.PlayerCount())
}

func TestHub_LastDisconnectTearsDownRoom(t *testing.T) {
	cfg := testConfig()
	quietBoss(cfg)
	server, hub, manager := hubServer(t, cfg)

	c := dialClient(t, server)
	c.join("ABCD", "alice")
	c.send(internal.EvSelectJob, map[string]string{"jobId": "warrior"})
	c.send(internal.EvSetReady, map[string]bool{"isReady": true})
	c.waitFor(internal.EvGameStart)

	require.NoError(t, c.conn.Close())

	// 房間連同 tick 迴圈一起拆除
	require.Eventually(t, func() bool {
		_, ok := manager.GetRoom("ABCD")
		return !ok && hub.ConnectionCount() == 0
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return manager.Stats()["active_loops"] == 0
	}, time.Second, 5*time.Millisecond)
}

// 戰鬥中斷線：倒地者以外全員離線時剩餘玩家的死亡仍會判負
func TestHub_DisconnectDuringGameBroadcasts(t *testing.T) {
	cfg := testConfig()
	quietBoss(cfg)
	server, _, manager := hubServer(t, cfg)

	c1 := dialClient(t, server)
	c1.join("ABCD", "alice")
	c2 := dialClient(t, server)
	id2 := c2.join("ABCD", "bob")

	c1.send(internal.EvSelectJob, map[string]string{"jobId": "warrior"})
	c2.send(internal.EvSelectJob, map[string]string{"jobId": "mage"})
	c1.send(internal.EvSetReady, map[string]bool{"isReady": true})
	c2.send(internal.EvSetReady, map[string]bool{"isReady": true})
	c1.waitFor(internal.EvGameStart)

	require.NoError(t, c2.conn.Close())

	var gone struct {
		PlayerID string `json:"playerId"`
	}
	require.NoError(t, json.Unmarshal(c1.waitFor(internal.EvPlayerDisconnected), &gone))
	assert.Equal(t, id2, gone.PlayerID)

	// 離開的玩家從模擬中移除
	room, ok := manager.GetRoom("ABCD")
	require.True(t, ok)
	assert.Equal(t, 1, room.PlayerCount())
}
