package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Shape 标识一个接口/页面的已知响应结构
type Shape string

const (
	// ShapeAuto 未指定结构时按 autoDetectOrder 逐个尝试
	ShapeAuto Shape = ""
	// ShapeList 顶层数组 [{title,url,...}]
	ShapeList         Shape = "list"
	ShapeWeibo        Shape = "weibo"
	ShapeZhihu        Shape = "zhihu"
	ShapeBaidu        Shape = "baidu"
	ShapeDouyin       Shape = "douyin"
	ShapeBilibili     Shape = "bilibili"
	ShapeToutiao      Shape = "toutiao"
	Shape36Kr         Shape = "36kr"
	ShapeGitHubSearch Shape = "github_search"
	// ShapeHackerNews 返回 id 列表，需要逐条再取详情
	ShapeHackerNews Shape = "hackernews"

	ShapeGitHubTrending Shape = "github_trending"
	ShapeTrends24       Shape = "trends24"
	ShapeGetDayTrends   Shape = "getdaytrends"
	ShapeBaiduBoard     Shape = "baidu_board"
)

// variant 是某个 Shape 下的一种具体格式。matched=false 表示结构不符，交给下一个 variant。
type variant struct {
	name  string
	parse func(body []byte) (items []RawItem, matched bool)
}

// 同一个提供方的格式并不稳定（知乎的几个第三方接口各不相同），所以一个 Shape 可以有多个 variant
var apiShapes = map[Shape][]variant{
	ShapeList:         {{"list", parseList}},
	ShapeWeibo:        {{"weibo-realtime", parseWeibo}},
	ShapeZhihu:        {{"zhihu-tenapi", parseZhihuTenAPI}, {"zhihu-oioweb", parseZhihuOIOWeb}, {"zhihu-success", parseZhihuSuccess}, {"zhihu-official", parseZhihuOfficial}},
	ShapeBaidu:        {{"baidu-cards", parseBaidu}},
	ShapeDouyin:       {{"douyin-word-list", parseDouyin}},
	ShapeBilibili:     {{"bilibili-popular", parseBilibili}},
	ShapeToutiao:      {{"toutiao-hot-board", parseToutiao}},
	Shape36Kr:         {{"36kr-hot-list", parse36Kr}},
	ShapeGitHubSearch: {{"github-search", parseGitHubSearch}},
}

// 自动识别时先试特征明显的结构，最后才是宽松的 data 数组
var autoDetectOrder = []Shape{
	ShapeList, ShapeWeibo, ShapeBaidu, ShapeDouyin, ShapeBilibili, Shape36Kr,
	ShapeGitHubSearch, ShapeToutiao, ShapeZhihu,
}

// decodeShape 按 shape 解析响应体，返回命中的 variant 名
func decodeShape(shape Shape, body []byte) ([]RawItem, string, error) {
	shapes := []Shape{shape}
	if shape == ShapeAuto {
		shapes = autoDetectOrder
	}
	for _, sh := range shapes {
		variants, ok := apiShapes[sh]
		if !ok {
			return nil, "", fmt.Errorf("%w: %q", ErrUnknownShape, sh)
		}
		for _, v := range variants {
			if items, matched := v.parse(body); matched {
				return items, v.name, nil
			}
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrUnknownShape, snippet(body, 100))
}

func snippet(body []byte, n int) string {
	rs := []rune(string(bytes.TrimSpace(body)))
	if len(rs) > n {
		rs = rs[:n]
	}
	return string(rs)
}

// flexString 兼容字符串和数字两种写法（例如 id: 123 / id: "123"）
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		// 对象、布尔等其它类型直接忽略
		return nil
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }

// flexFloat 兼容数字和“123万热度”这类文本
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexFloat(parseHeat(s))
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	*f = flexFloat(v)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

type listEntry struct {
	ID          flexString `json:"id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Link        string     `json:"link"`
	Description string     `json:"description"`
	Desc        string     `json:"desc"`
	PubDate     flexString `json:"pubDate"`
	Rank        int        `json:"rank"`
	Hot         flexFloat  `json:"hot"`
}

func parseList(body []byte) ([]RawItem, bool) {
	var entries []listEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, false
	}
	// 合法的空数组算命中，交给上层按空结果处理
	if len(entries) == 0 {
		return []RawItem{}, true
	}
	out := make([]RawItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RawItem{
			ID:          e.ID.String(),
			Title:       e.Title,
			URL:         firstNonEmpty(e.URL, e.Link),
			Description: firstNonEmpty(e.Description, e.Desc),
			Rank:        e.Rank,
			HotScore:    float64(e.Hot),
			PubDate:     ParseTime(e.PubDate.String()),
		})
	}
	return out, hasTitle(out)
}

func hasTitle(items []RawItem) bool {
	for _, it := range items {
		if strings.TrimSpace(it.Title) != "" {
			return true
		}
	}
	return false
}

func parseWeibo(body []byte) ([]RawItem, bool) {
	var resp struct {
		Data *struct {
			Realtime []struct {
				Word       string    `json:"word"`
				WordScheme string    `json:"word_scheme"`
				Note       string    `json:"note"`
				Num        flexFloat `json:"num"`
				Label      string    `json:"label_name"`
			} `json:"realtime"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Data == nil || resp.Data.Realtime == nil {
		return nil, false
	}
	out := make([]RawItem, 0, len(resp.Data.Realtime))
	for _, it := range resp.Data.Realtime {
		q := firstNonEmpty(it.WordScheme, it.Word)
		raw := RawItem{
			ID:          q,
			Title:       it.Word,
			URL:         "https://s.weibo.com/weibo?q=" + url.QueryEscape(q),
			Description: it.Note,
			HotScore:    float64(it.Num),
		}
		if it.Label != "" {
			raw.Extra = map[string]any{"label": it.Label}
		}
		out = append(out, raw)
	}
	return out, true
}

type zhihuTarget struct {
	ID      flexString `json:"id"`
	Title   string     `json:"title"`
	URL     string     `json:"url"`
	Excerpt string     `json:"excerpt"`
	Created int64      `json:"created"`
	Link    *struct {
		URL string `json:"url"`
	} `json:"link"`
}

type zhihuEntry struct {
	Target     *zhihuTarget `json:"target"`
	ID         flexString   `json:"id"`
	Index      flexString   `json:"index"`
	Title      string       `json:"title"`
	Query      string       `json:"query"`
	URL        string       `json:"url"`
	Excerpt    string       `json:"excerpt"`
	Desc       string       `json:"desc"`
	Hot        flexFloat    `json:"hot"`
	DetailText flexFloat    `json:"detail_text"`
}

func zhihuQuestionURL(id string) string {
	if id == "" {
		return ""
	}
	return "https://www.zhihu.com/question/" + id
}

func (e zhihuEntry) raw() RawItem {
	var t zhihuTarget
	if e.Target != nil {
		t = *e.Target
	}
	id := firstNonEmpty(t.ID.String(), e.ID.String(), e.Index.String())
	link := ""
	if t.Link != nil {
		link = t.Link.URL
	}
	r := RawItem{
		ID:          id,
		Title:       firstNonEmpty(t.Title, e.Title, e.Query),
		URL:         firstNonEmpty(link, t.URL, e.URL, zhihuQuestionURL(firstNonEmpty(t.ID.String(), e.ID.String()))),
		Description: firstNonEmpty(t.Excerpt, e.Excerpt, e.Desc),
		HotScore:    float64(e.DetailText),
		PubDate:     unixAuto(t.Created),
	}
	if r.HotScore == 0 {
		r.HotScore = float64(e.Hot)
	}
	return r
}

func zhihuItems(entries []zhihuEntry) []RawItem {
	out := make([]RawItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.raw())
	}
	return out
}

// { code: 200, data: { list: [...] } }
func parseZhihuTenAPI(body []byte) ([]RawItem, bool) {
	var resp struct {
		Code flexString `json:"code"`
		Data *struct {
			List []zhihuEntry `json:"list"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false
	}
	if resp.Code != "200" || resp.Data == nil || resp.Data.List == nil {
		return nil, false
	}
	return zhihuItems(resp.Data.List), true
}

// { code: 200, result: [...] }
func parseZhihuOIOWeb(body []byte) ([]RawItem, bool) {
	var resp struct {
		Code   flexString   `json:"code"`
		Result []zhihuEntry `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false
	}
	if resp.Code != "200" || resp.Result == nil {
		return nil, false
	}
	return zhihuItems(resp.Result), true
}

// { success: true, data: [{index,title,url,desc}] }
func parseZhihuSuccess(body []byte) ([]RawItem, bool) {
	var resp struct {
		Success bool         `json:"success"`
		OK      bool         `json:"ok"`
		Data    []zhihuEntry `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false
	}
	if !(resp.Success || resp.OK) || resp.Data == nil {
		return nil, false
	}
	out := zhihuItems(resp.Data)
	// 这个格式里 index 就是排名
	for i, e := range resp.Data {
		if n, err := strconv.Atoi(e.Index.String()); err == nil {
			out[i].Rank = n
		}
	}
	return out, true
}

// 官方接口 { data: [{ target: {...} }] }
func parseZhihuOfficial(body []byte) ([]RawItem, bool) {
	var resp struct {
		Data []zhihuEntry `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Data) == 0 {
		return nil, false
	}
	items := zhihuItems(resp.Data)
	return items, hasTitle(items)
}

// { data: { cards: [{ content: [...] }] } }
func parseBaidu(body []byte) ([]RawItem, bool) {
	var resp struct {
		Data *struct {
			Cards []struct {
				Content []struct {
					Query    string    `json:"query"`
					Word     string    `json:"word"`
					URL      string    `json:"url"`
					Desc     string    `json:"desc"`
					HotScore flexFloat `json:"hotScore"`
					Img      string    `json:"img"`
				} `json:"content"`
			} `json:"cards"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Data == nil || len(resp.Data.Cards) == 0 {
		return nil, false
	}
	content := resp.Data.Cards[0].Content
	if content == nil {
		return nil, false
	}
	out := make([]RawItem, 0, len(content))
	for _, it := range content {
		q := firstNonEmpty(it.Query, it.Word)
		raw := RawItem{
			ID:          q,
			Title:       q,
			URL:         firstNonEmpty(it.URL, "https://www.baidu.com/s?wd="+url.QueryEscape(q)),
			Description: it.Desc,
			HotScore:    float64(it.HotScore),
		}
		if it.Img != "" {
			raw.Extra = map[string]any{"image": it.Img}
		}
		out = append(out, raw)
	}
	return out, true
}

// { word_list: [{ word, hot_value, event_time }] }
func parseDouyin(body []byte) ([]RawItem, bool) {
	var resp struct {
		WordList []struct {
			Word      string     `json:"word"`
			HotValue  flexFloat  `json:"hot_value"`
			EventTime flexString `json:"event_time"`
		} `json:"word_list"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.WordList == nil {
		return nil, false
	}
	out := make([]RawItem, 0, len(resp.WordList))
	for _, it := range resp.WordList {
		out = append(out, RawItem{
			ID:       it.Word,
			Title:    it.Word,
			URL:      "https://www.douyin.com/search/" + url.PathEscape(it.Word),
			HotScore: float64(it.HotValue),
			PubDate:  ParseTime(it.EventTime.String()),
		})
	}
	return out, true
}

// { code: 0, data: { list: [{ aid, bvid, title, desc, pubdate }] } }
func parseBilibili(body []byte) ([]RawItem, bool) {
	var resp struct {
		Code *int `json:"code"`
		Data *struct {
			List []struct {
				AID     flexString `json:"aid"`
				BVID    string     `json:"bvid"`
				Title   string     `json:"title"`
				Desc    string     `json:"desc"`
				PubDate int64      `json:"pubdate"`
				Owner   struct {
					Name string `json:"name"`
				} `json:"owner"`
				Stat struct {
					View float64 `json:"view"`
				} `json:"stat"`
			} `json:"list"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false
	}
	if resp.Code == nil || *resp.Code != 0 || resp.Data == nil || resp.Data.List == nil {
		return nil, false
	}
	out := make([]RawItem, 0, len(resp.Data.List))
	for _, it := range resp.Data.List {
		out = append(out, RawItem{
			ID:          it.AID.String(),
			Title:       it.Title,
			URL:         "https://www.bilibili.com/video/" + it.BVID,
			Description: it.Desc,
			HotScore:    it.Stat.View,
			PubDate:     unixAuto(it.PubDate),
			Extra:       map[string]any{"author": it.Owner.Name},
		})
	}
	return out, true
}

// { data: [{ ClusterId, Title, Url, Abstract, HotValue }] }
func parseToutiao(body []byte) ([]RawItem, bool) {
	var resp struct {
		Data []struct {
			ClusterID flexString `json:"ClusterId"`
			Title     string     `json:"Title"`
			URL       string     `json:"Url"`
			Abstract  string     `json:"Abstract"`
			HotValue  flexFloat  `json:"HotValue"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Data) == 0 {
		return nil, false
	}
	if resp.Data[0].ClusterID == "" {
		return nil, false
	}
	out := make([]RawItem, 0, len(resp.Data))
	for _, it := range resp.Data {
		out = append(out, RawItem{
			ID:          it.ClusterID.String(),
			Title:       it.Title,
			URL:         firstNonEmpty(it.URL, "https://www.toutiao.com/search/?keyword="+url.QueryEscape(it.Title)),
			Description: it.Abstract,
			HotScore:    float64(it.HotValue),
		})
	}
	return out, true
}

// { data: { hotListData: [{ itemId, templateMaterial: { widgetTitle, widgetSummary } }] } }
func parse36Kr(body []byte) ([]RawItem, bool) {
	var resp struct {
		Data *struct {
			HotListData []struct {
				ItemID           flexString `json:"itemId"`
				TemplateMaterial struct {
					WidgetTitle   string    `json:"widgetTitle"`
					WidgetSummary string    `json:"widgetSummary"`
					StatRead      flexFloat `json:"statRead"`
					PublishTime   int64     `json:"publishTime"`
				} `json:"templateMaterial"`
			} `json:"hotListData"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Data == nil || resp.Data.HotListData == nil {
		return nil, false
	}
	out := make([]RawItem, 0, len(resp.Data.HotListData))
	for _, it := range resp.Data.HotListData {
		id := it.ItemID.String()
		out = append(out, RawItem{
			ID:          id,
			Title:       it.TemplateMaterial.WidgetTitle,
			URL:         "https://36kr.com/p/" + id,
			Description: it.TemplateMaterial.WidgetSummary,
			HotScore:    float64(it.TemplateMaterial.StatRead),
			PubDate:     unixAuto(it.TemplateMaterial.PublishTime),
		})
	}
	return out, true
}

// GitHub search API { items: [{ html_url, full_name, description, ... }] }
func parseGitHubSearch(body []byte) ([]RawItem, bool) {
	var resp struct {
		Items []struct {
			HTMLURL     string  `json:"html_url"`
			FullName    string  `json:"full_name"`
			Description string  `json:"description"`
			CreatedAt   string  `json:"created_at"`
			Stars       float64 `json:"stargazers_count"`
			Language    string  `json:"language"`
			Forks       int     `json:"forks_count"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Items == nil {
		return nil, false
	}
	out := make([]RawItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		out = append(out, RawItem{
			ID:          it.HTMLURL,
			Title:       it.FullName,
			URL:         it.HTMLURL,
			Description: it.Description,
			HotScore:    it.Stars,
			PubDate:     ParseTime(it.CreatedAt),
			Extra: map[string]any{
				"stars":    it.Stars,
				"language": it.Language,
				"forks":    it.Forks,
			},
		})
	}
	return out, true
}
