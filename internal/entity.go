package internal

import "time"

// Player 房間內的玩家實體（服務端權威狀態）
//
// 由其所屬 Room 獨占持有：所有欄位只在 Room 的鎖之內讀寫。
// 加入時創建，斷線或房間銷毀時移除。
type Player struct {
	ID      string
	Name    string
	Job     string // 空字串表示尚未選擇
	IsReady bool

	X, Y       float64
	HP, MaxHP  int
	Speed      float64
	AttackDmg  int
	AttackRng  float64
	AttackRad  float64

	// MoveX/MoveY 為待處理的正規化方向輸入，下一次 tick 消耗後歸零
	MoveX, MoveY float64
	HasMove      bool

	// 待結算的攻擊，於碰撞階段處理
	PendingAttacks []AttackInput

	// 技能冷卻：skillID -> 剩餘時間
	Cooldowns map[string]time.Duration
}

// Alive 玩家是否還能行動（HP 歸零後仍留在房間，但不再造成或承受傷害）
func (p *Player) Alive() bool {
	return p.HP > 0
}

// AttackInput 一次攻擊請求（normal 或 skill）
type AttackInput struct {
	Type    string // "normal" | "skill"
	SkillID string
	AimX    float64
	AimY    float64
}

// Boss 每個房間唯一的魔王實體，只由模擬步驟修改
type Boss struct {
	ID        string
	HP, MaxHP int
	X, Y      float64

	// Phase 只增不減，由 HP 比例門檻決定
	Phase int

	// CurrentAttack 進行中的攻擊模式名稱，空字串表示無
	CurrentAttack string

	// attackTimer 距離下一輪發射的累計時間
	attackTimer time.Duration
}

// Projectile 場上的彈幕；由模擬步驟創建與銷毀，不對外提供引用
type Projectile struct {
	ID     string
	Type   string
	Owner  string // 玩家 ID，或魔王的 ID
	X, Y   float64
	Angle  float64 // 弧度
	Speed  float64
	Damage int
	Radius float64
	TTL    time.Duration
}

// --- 客戶端視圖 ---
// 快照是唯一送往客戶端的狀態子集，依房間狀態分成兩種形狀。

// LobbyPlayerView 大廳內單一玩家的視圖（不含位置與 HP）
type LobbyPlayerView struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Job     *string `json:"job"` // 未選擇時為 null
	IsReady bool    `json:"isReady"`
}

// LobbySnapshot 大廳快照，隨 roomUpdate 事件廣播
type LobbySnapshot struct {
	Players  []LobbyPlayerView `json:"players"`
	RoomCode string            `json:"roomCode"`
	HostID   string            `json:"hostId"`
}

// GamePlayerView 戰鬥中單一玩家的視圖
type GamePlayerView struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	HP int     `json:"hp"`
}

// BossView 魔王視圖
type BossView struct {
	HP            int     `json:"hp"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	CurrentAttack *string `json:"currentAttack"` // 無進行中攻擊時為 null
	Phase         int     `json:"phase"`
}

// ProjectileView 彈幕視圖
type ProjectileView struct {
	ID    string  `json:"id"`
	Type  string  `json:"type"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
}

// GameSnapshot 戰鬥中每 tick 廣播的權威快照
type GameSnapshot struct {
	Players     []GamePlayerView `json:"players"`
	Boss        BossView         `json:"boss"`
	Projectiles []ProjectileView `json:"projectiles"`
}

// InitialPlayerState gameStart 事件中的玩家初始狀態
type InitialPlayerState struct {
	ID    string  `json:"id"`
	HP    int     `json:"hp"`
	MaxHP int     `json:"maxHp"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Job   string  `json:"job"`
}

// InitialBossState gameStart 事件中的魔王初始狀態
type InitialBossState struct {
	ID    string  `json:"id"`
	HP    int     `json:"hp"`
	MaxHP int     `json:"maxHp"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Phase int     `json:"phase"`
}

// nilIfEmpty 空字串轉為 null（對應協議中的 nullable 欄位）
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
