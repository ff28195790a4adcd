package protocol

// Event 消息信封中的 event 判别字段
type Event string

const (
	EventFindMatch  Event = "find-match"  // client→server 请求匹配
	EventWaiting    Event = "waiting"     // server→client 已入队，暂无对手
	EventStartGame  Event = "start-game"  // server→client 匹配成功
	EventSpinUpdate Event = "spin-update" // 双向，运动更新
	EventGameOver   Event = "game-over"   // server→client 对局结束
)

// Message 解码后的协议消息（带标签的变体）
type Message interface {
	Event() Event
}

// FindMatch 请求排队匹配
type FindMatch struct{}

// Waiting 服务端确认已排队
type Waiting struct{}

// StartGame 匹配成功；Text 为可选的服务端提示
type StartGame struct {
	Text string
}

// SpinField spin-update 携带的字段种类
type SpinField int

const (
	SpinRPM   SpinField = iota // rpm（首选）
	SpinAngle                  // angle（兼容变体）
)

// SpinUpdate 角色运动更新，Field 指明 Value 是 rpm 还是 angle
type SpinUpdate struct {
	Field SpinField
	Value float64
}

// RPMUpdate 构造携带 rpm 的更新
func RPMUpdate(rpm float64) SpinUpdate { return SpinUpdate{Field: SpinRPM, Value: rpm} }

// AngleUpdate 构造携带 angle 的更新
func AngleUpdate(angle float64) SpinUpdate { return SpinUpdate{Field: SpinAngle, Value: angle} }

// GameOver 对局结果；线上两个 RPM 以数字文本传输
type GameOver struct {
	Winner     string
	Player1RPM float64
	Player2RPM float64
}

func (FindMatch) Event() Event  { return EventFindMatch }
func (Waiting) Event() Event    { return EventWaiting }
func (StartGame) Event() Event  { return EventStartGame }
func (SpinUpdate) Event() Event { return EventSpinUpdate }
func (GameOver) Event() Event   { return EventGameOver }

// ClientSent 报告该事件是否允许由客户端发出（find-match、spin-update）
func ClientSent(e Event) bool {
	return e == EventFindMatch || e == EventSpinUpdate
}
