// Package bossbattle 是一個服務端權威的多人魔王戰會話服務器。
//
// 玩家以房間碼加入房間、選擇職業並準備；全員就緒後服務端以固定
// 頻率推進該房間的模擬（玩家位置、魔王 AI、彈幕、傷害、勝負），
// 並將權威快照廣播給房間全員。客戶端只負責渲染與輸入。
//
// 房間生命週期
//
// 每個房間是一個獨立的有限狀態機：
//
//	lobby → game → result
//
// 轉換單向不可逆；同一房間碼要重開一局，必須等房間清空後重建。
// 房間在第一次 join 時延遲創建，最後一名玩家離開時立即拆除，
// 連同它的 tick 迴圈。
//
// 併發模型
//
// 每個房間一把互斥鎖，連線事件與 tick 在鎖上序列化；
// 不同房間互不干擾。進入戰鬥的房間各自擁有一個
// goroutine + time.Ticker 的驅動器，停止是同步的：
// StopLoop 返回後保證不再有 tick 執行。
//
// 通訊協議
//
// 單一 WebSocket 端點，訊息外層為 {"event": "...", "data": {...}}。
// 入站：joinRoom、selectJob、setReady、playerMove、playerAttack。
// 出站：joinRoomSuccess、roomUpdate、gameStart、gameStateUpdate、
// gameOver、playerDisconnected、bossDamaged、playerAttackFeedback、
// errorMessage。
//
// 平衡數值
//
// 傷害、速度、冷卻、魔王階段門檻等全部來自 yaml 配置；
// 引擎只保證步驟順序、狀態機與廣播節奏的正確性。
package bossbattle
