package collector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/LJTian/HotlistHub/internal/logging"
)

const (
	translateMaxResponseBytes = 256 * 1024
	translateMaxLen           = 500
	translateConcurrency      = 3

	defaultGoogleTranslateURL = "https://translate.googleapis.com/translate_a/single"
	defaultMyMemoryURL        = "https://api.mymemory.translated.net/get"
)

// Translator 依次尝试 Google Translate 公开接口 → MyMemory，均失败则保留原文
type Translator struct {
	client      *http.Client
	googleURL   string
	myMemoryURL string
	logger      *zap.Logger
}

type TranslatorOption func(*Translator)

// WithEndpoints 替换两个翻译接口地址，测试里指向本地服务
func WithEndpoints(googleURL, myMemoryURL string) TranslatorOption {
	return func(t *Translator) {
		t.googleURL = googleURL
		t.myMemoryURL = myMemoryURL
	}
}

func NewTranslator(client *http.Client, logger *zap.Logger, opts ...TranslatorOption) *Translator {
	if client == nil {
		client = http.DefaultClient
	}
	t := &Translator{
		client:      client,
		googleURL:   defaultGoogleTranslateURL,
		myMemoryURL: defaultMyMemoryURL,
		logger:      logging.OrNop(logger),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func isMostlyChinese(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	var cjk, total int
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.Is(unicode.Han, r) || (r >= 0x3000 && r <= 0x303f) {
			cjk++
		}
	}
	if total == 0 {
		return true
	}
	return cjk >= 1 && (cjk*4 >= total || cjk >= 2)
}

func sourceLangForMyMemory(s string) string {
	for _, r := range s {
		if unicode.In(r, unicode.Hiragana, unicode.Katakana) {
			return "ja"
		}
	}
	return "en"
}

// ToChinese 已经是中文时原样返回
func (t *Translator) ToChinese(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if text == "" || isMostlyChinese(text) {
		return text
	}
	if rs := []rune(text); len(rs) > translateMaxLen {
		text = string(rs[:translateMaxLen])
	}
	if out := t.viaGoogle(ctx, text); out != "" {
		return out
	}
	if out := t.viaMyMemory(ctx, text); out != "" {
		return out
	}
	return text
}

// translateItems 翻译指定字段，原文保存在 Extra["original_<field>"]，并发数有上限
func (t *Translator) translateItems(ctx context.Context, items []Item, field TranslateField) {
	if field == TranslateNone || len(items) == 0 {
		return
	}
	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, translateConcurrency)
	)
	for i := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(it *Item) {
			defer wg.Done()
			defer func() { <-sem }()

			src := it.Title
			if field == TranslateDescription {
				src = it.Description
			}
			out := t.ToChinese(ctx, src)
			if out == "" || out == strings.TrimSpace(src) {
				return
			}
			extra := make(map[string]any, len(it.Extra)+1)
			for k, v := range it.Extra {
				extra[k] = v
			}
			extra["original_"+string(field)] = src
			it.Extra = extra
			if field == TranslateDescription {
				it.Description = out
			} else {
				it.Title = out
			}
		}(&items[i])
	}
	wg.Wait()
}

// viaGoogle 使用 client=gtx 接口，无需密钥
func (t *Translator) viaGoogle(ctx context.Context, text string) string {
	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", "auto")
	q.Set("tl", "zh-CN")
	q.Set("dt", "t")
	q.Set("q", text)
	body, err := t.get(ctx, t.googleURL+"?"+q.Encode())
	if err != nil {
		t.logger.Debug("translate via google failed", zap.Error(err))
		return ""
	}

	// 响应格式: [[["翻译文本","原文",...],...],...]
	var raw []any
	if err := json.Unmarshal(body, &raw); err != nil || len(raw) == 0 {
		return ""
	}
	outer, ok := raw[0].([]any)
	if !ok {
		return ""
	}
	var result strings.Builder
	for _, seg := range outer {
		pair, ok := seg.([]any)
		if !ok || len(pair) < 1 {
			continue
		}
		if s, ok := pair[0].(string); ok {
			result.WriteString(s)
		}
	}
	return strings.TrimSpace(result.String())
}

func (t *Translator) viaMyMemory(ctx context.Context, text string) string {
	q := url.Values{}
	q.Set("langpair", sourceLangForMyMemory(text)+"|zh")
	q.Set("q", text)
	body, err := t.get(ctx, t.myMemoryURL+"?"+q.Encode())
	if err != nil {
		t.logger.Debug("translate via mymemory failed", zap.Error(err))
		return ""
	}
	var out struct {
		ResponseData struct {
			TranslatedText string `json:"translatedText"`
		} `json:"responseData"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return ""
	}
	return strings.TrimSpace(out.ResponseData.TranslatedText)
}

func (t *Translator) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ErrHTTPStatus
	}
	return io.ReadAll(io.LimitReader(resp.Body, translateMaxResponseBytes))
}
