package agent

// 预览模式的默认参数
const (
	DefaultModel       = "google/gemini-2.5-flash"
	DefaultTemperature = 0.7
)

// BuilderSystemPrompt 未提供 agentConfig 时使用的构建助手人设
const BuilderSystemPrompt = `You are Jeesi, a friendly assistant that helps people design conversational AI agents without writing code.
Ask short clarifying questions about what the agent should do and who will talk to it.
When you have enough detail, propose a clear system prompt the user can copy into their agent, and explain any choices in plain language.
Keep answers concise and practical.`

// Behavior 构造上游请求所需的行为参数
type Behavior struct {
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// Overrides 调用方提供的部分配置，nil 字段沿用默认值
type Overrides struct {
	SystemPrompt *string  `json:"systemPrompt"`
	Model        *string  `json:"model" binding:"omitempty,min=1,max=100"`
	Temperature  *float64 `json:"temperature" binding:"omitempty,gte=0,lte=2"`
	MaxTokens    *int     `json:"maxTokens" binding:"omitempty,gte=0"`
}

// DefaultConfig 构建助手人设 + 默认模型与温度
func DefaultConfig() Behavior {
	return Behavior{
		SystemPrompt: BuilderSystemPrompt,
		Model:        DefaultModel,
		Temperature:  DefaultTemperature,
	}
}

// Merge 把部分配置覆盖到 b 上，o 为 nil 时原样返回
func (b Behavior) Merge(o *Overrides) Behavior {
	if o == nil {
		return b
	}
	if o.SystemPrompt != nil && *o.SystemPrompt != "" {
		b.SystemPrompt = *o.SystemPrompt
	}
	if o.Model != nil && *o.Model != "" {
		b.Model = *o.Model
	}
	if o.Temperature != nil {
		b.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil {
		b.MaxTokens = *o.MaxTokens
	}
	return b
}
