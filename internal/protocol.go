package internal

import "encoding/json"

// 事件名稱：客戶端 → 服務端
const (
	EvJoinRoom     = "joinRoom"
	EvSelectJob    = "selectJob"
	EvSetReady     = "setReady"
	EvPlayerMove   = "playerMove"
	EvPlayerAttack = "playerAttack"
)

// 事件名稱：服務端 → 客戶端
const (
	EvJoinRoomSuccess    = "joinRoomSuccess"
	EvRoomUpdate         = "roomUpdate"
	EvGameStart          = "gameStart"
	EvGameStateUpdate    = "gameStateUpdate"
	EvGameOver           = "gameOver"
	EvPlayerDisconnected = "playerDisconnected"
	EvErrorMessage       = "errorMessage"
	EvBossDamaged        = "bossDamaged"
	EvAttackFeedback     = "playerAttackFeedback"
)

// Event 傳輸外層：{"event": "...", "data": {...}}
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ClientMessage 入站訊息的外層；Data 延遲解碼
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// --- 入站載荷 ---

type joinRoomPayload struct {
	PlayerName string `json:"playerName"`
	RoomCode   string `json:"roomCode"`
}

type selectJobPayload struct {
	JobID string `json:"jobId"`
}

type setReadyPayload struct {
	IsReady bool `json:"isReady"`
}

type playerMovePayload struct {
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

type playerAttackPayload struct {
	Type    string  `json:"type"` // "normal" | "skill"
	SkillID string  `json:"skillId,omitempty"`
	AimX    float64 `json:"aimX"`
	AimY    float64 `json:"aimY"`
}

// --- 出站載荷 ---

type joinRoomSuccessPayload struct {
	PlayerID string `json:"playerId"`
	RoomCode string `json:"roomCode"`
}

// GameStartPayload lobby→game 轉換時廣播一次
type GameStartPayload struct {
	InitialBossState    InitialBossState     `json:"initialBossState"`
	InitialPlayerStates []InitialPlayerState `json:"initialPlayerStates"`
}

type gameOverPayload struct {
	Result string `json:"result"` // "win" | "lose"
}

type playerDisconnectedPayload struct {
	PlayerID string `json:"playerId"`
}

type errorMessagePayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BossDamagedPayload 玩家攻擊命中魔王時廣播
type BossDamagedPayload struct {
	DamageAmount int `json:"damageAmount"`
	RemainingHP  int `json:"remainingHp"`
}

// AttackFeedbackPayload 技能施放結果，只回給施放者
type AttackFeedbackPayload struct {
	Success           bool    `json:"success"`
	Reason            string  `json:"reason,omitempty"`            // 如 "OnCooldown"
	CooldownRemaining float64 `json:"cooldownRemaining,omitempty"` // 秒
}
