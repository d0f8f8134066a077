package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/CiscoZulfikar/bitget-trade/internal/config"
	"github.com/CiscoZulfikar/bitget-trade/internal/exchange"
)

const parsePrompt = `你是加密货币交易频道消息的解析器。判断下面的消息属于
TRADE_CALL（开仓指令）、UPDATE（对既有交易的调整）还是 IGNORE（闲聊/新闻/广告）。

消息: %q

上下文（回复/编辑时提供）: %q

严格输出唯一的 JSON 对象。格式如下：

TRADE_CALL:
{
  "type": "TRADE_CALL",
  "symbol": "BTCUSDT",                  // 去掉 # 或 $，全大写
  "direction": "LONG" 或 "SHORT",
  "entry": float,
  "sl": float,                           // 识别 SL / STOP LOSS / STOP / INVALIDATION / ❌
  "tp": [float, ...],                    // 识别 TP / TARGET / T1 / T2 / TAKE PROFIT / 🎯
  "leverage": float,                     // 可选，消息明确给出时才填
  "order_type": "MARKET" 或 "LIMIT"     // 默认 MARKET，仅消息明确写 LIMIT 时返回 LIMIT
}

UPDATE（如 "Booked 1R"、"Move SL to Entry"、"SL Hit"、"Closing here"、"Cancel Orders"、"TP to 65000"）:
{
  "type": "UPDATE",
  "symbol": "BTCUSDT",                   // 可选，消息未写时从上下文推断
  "action": "MOVE_SL" | "MOVE_TP" | "CLOSE_FULL" | "CLOSE_PARTIAL" | "BOOK_R" | "CANCEL",
  "value": float 或字符串 "ENTRY"/"BE"/"LIQ",
  "raw_text": "触发该判断的原文片段"
}

IGNORE:
{ "type": "IGNORE" }

规则：
1. "Booked 1R" → action=BOOK_R, value=1。
2. "Move SL to Entry" → action=MOVE_SL, value="ENTRY"。
3. "SL to BE" / "Breakeven" → action=MOVE_SL, value="BE"。
4. "SL to Liq" → action=MOVE_SL, value="LIQ"。
5. "SL 69000" → action=MOVE_SL, value=69000。
6. "Cancel" / "Delete Orders" / "Remove Limits" → action=CANCEL。
7. "TP to 65000" / "Change TP" → action=MOVE_TP, value=65000。
8. TARGET / T1 / T2 / OBJECTIVE 指 TP；INVALIDATION / STOP 指 SL。
9. 容忍松散排版。
`

// Parser 调用大模型把频道消息解析为类型化意图。
type Parser struct {
	cfg    config.SignalConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewParser 创建信号解析器。
func NewParser(cfg config.SignalConfig, logger *zap.Logger) (*Parser, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("signal: api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &Parser{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(clientConfig),
	}, nil
}

// Parse 解析一条消息。解析失败或内容无法识别时返回 IGNORE，
// 不会让一条坏消息中断整个流程。
func (p *Parser) Parse(ctx context.Context, msg Message) (Intent, error) {
	if p.cfg.Model == "" {
		return Intent{}, errors.New("signal: model 不能为空")
	}

	prompt := fmt.Sprintf(parsePrompt, msg.Text, msg.ReplyContext)

	response, err := p.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		p.logger.Error("调用大模型失败", zap.Error(err))
		return Intent{}, fmt.Errorf("signal: 调用大模型失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return Intent{}, errors.New("signal: 模型返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return Intent{}, errors.New("signal: 模型返回内容为空")
	}

	intent, err := decodeIntent(msg.ID, rawContent)
	if err != nil {
		p.logger.Warn("解析模型输出失败，按 IGNORE 处理",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return Intent{Kind: KindIgnore}, nil
	}
	return intent, nil
}

type rawIntent struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	Direction string          `json:"direction"`
	Entry     float64         `json:"entry"`
	SL        float64         `json:"sl"`
	TP        []float64       `json:"tp"`
	Leverage  float64         `json:"leverage"`
	OrderType string          `json:"order_type"`
	Action    string          `json:"action"`
	Value     json.RawMessage `json:"value"`
	RawText   string          `json:"raw_text"`
}

func decodeIntent(id, content string) (Intent, error) {
	payload, err := extractJSON(content)
	if err != nil {
		return Intent{}, err
	}

	var raw rawIntent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Intent{}, fmt.Errorf("signal: 解析意图JSON失败: %w", err)
	}

	switch Kind(strings.ToUpper(strings.TrimSpace(raw.Type))) {
	case KindTrade:
		return buildTradeIntent(id, raw)
	case KindUpdate:
		return buildUpdateIntent(id, raw)
	case KindIgnore:
		return Intent{Kind: KindIgnore}, nil
	default:
		return Intent{}, fmt.Errorf("signal: 未知意图类别: %s", raw.Type)
	}
}

func buildTradeIntent(id string, raw rawIntent) (Intent, error) {
	side := exchange.SideLong
	if strings.EqualFold(strings.TrimSpace(raw.Direction), "SHORT") {
		side = exchange.SideShort
	}

	trade := TradeIntent{
		ID:            id,
		Symbol:        NormalizeSymbol(raw.Symbol),
		Side:          side,
		Entry:         raw.Entry,
		Stop:          raw.SL,
		TakeProfits:   raw.TP,
		LeverageHint:  raw.Leverage,
		ExplicitLimit: strings.EqualFold(strings.TrimSpace(raw.OrderType), "LIMIT"),
	}
	if err := trade.Validate(); err != nil {
		return Intent{}, err
	}
	return Intent{Kind: KindTrade, Trade: &trade}, nil
}

func buildUpdateIntent(id string, raw rawIntent) (Intent, error) {
	update := UpdateIntent{
		ID:      id,
		Symbol:  NormalizeSymbol(raw.Symbol),
		Action:  UpdateAction(strings.ToUpper(strings.TrimSpace(raw.Action))),
		RawText: raw.RawText,
	}

	value, symbolic, err := decodeValue(raw.Value)
	if err != nil {
		return Intent{}, err
	}
	update.Value = value
	update.Symbolic = symbolic

	if err := update.Validate(); err != nil {
		return Intent{}, err
	}
	return Intent{Kind: KindUpdate, Update: &update}, nil
}

// decodeValue 兼容数值与语义两种 value 写法。
func decodeValue(raw json.RawMessage) (float64, SymbolicValue, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, SymbolicNone, nil
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num, SymbolicNone, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, SymbolicNone, fmt.Errorf("signal: value 字段无法解析: %s", string(raw))
	}

	text = strings.ToUpper(strings.TrimSpace(text))
	switch text {
	case "ENTRY":
		return 0, SymbolicEntry, nil
	case "BE", "BREAKEVEN":
		return 0, SymbolicBreakeven, nil
	case "LIQ", "LIQUIDATION":
		return 0, SymbolicLiquidation, nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f, SymbolicNone, nil
	}
	return 0, SymbolicNone, fmt.Errorf("signal: value 字段取值非法: %s", text)
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("signal: 模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
