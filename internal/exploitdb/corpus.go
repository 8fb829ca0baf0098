package exploitdb

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"Fenrir/internal/model"
	"Fenrir/internal/utils"
)

// ErrMissingColumn CSV 缺少必需的列
var ErrMissingColumn = errors.New("exploit CSV 缺少必需的列")

// Corpus 只读的利用记录库，加载后不再修改，可并发读取
type Corpus struct {
	entries []entry
	logger  *utils.Logger
}

type entry struct {
	record model.ExploitRecord
	title  string   // 小写标题
	codes  []string // 小写编号
}

// NewCorpus 由记录构造利用库，记录按 edb_id 排序
func NewCorpus(records []model.ExploitRecord) *Corpus {
	entries := make([]entry, 0, len(records))
	for _, r := range records {
		e := entry{record: r, title: strings.ToLower(r.Title)}
		for _, code := range strings.Split(r.Codes, ";") {
			if code = strings.ToLower(strings.TrimSpace(code)); code != "" {
				e.codes = append(e.codes, code)
			}
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return lessEDBID(entries[i].record.EDBID, entries[j].record.EDBID)
	})

	return &Corpus{entries: entries, logger: utils.NewLogger("exploitdb")}
}

// Len 记录数
func (c *Corpus) Len() int {
	return len(c.entries)
}

// FindExploits 对每个关键词独立匹配
// 标题做不区分大小写的子串匹配，edb_id 与 CVE 等编号做精确匹配；
// 每个关键词都会出现在结果中，无命中时为空切片
func (c *Corpus) FindExploits(terms []string) map[string][]model.ExploitRecord {
	results := make(map[string][]model.ExploitRecord, len(terms))
	for _, term := range terms {
		if _, done := results[term]; done {
			continue
		}
		results[term] = c.match(term)
	}
	return results
}

func (c *Corpus) match(term string) []model.ExploitRecord {
	matches := []model.ExploitRecord{}
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return matches
	}

	for _, e := range c.entries {
		if strings.Contains(e.title, needle) || strings.EqualFold(e.record.EDBID, needle) || containsCode(e.codes, needle) {
			matches = append(matches, e.record)
		}
	}
	c.logger.Debug("关键词 %q 命中 %d 条利用记录", term, len(matches))
	return matches
}

func containsCode(codes []string, needle string) bool {
	for _, code := range codes {
		if code == needle {
			return true
		}
	}
	return false
}

// lessEDBID 按数值比较 edb_id，非数字的排在数字之后按字符串比较
func lessEDBID(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}

// requiredColumns Exploit-DB files_exploits.csv 中必需的列
var requiredColumns = []string{"id", "file", "description", "type", "platform"}

// LoadCSV 从 Exploit-DB 的 files_exploits.csv 加载利用库
func LoadCSV(path string) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开exploit数据文件失败: %w", err)
	}
	defer f.Close()

	records, err := ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	corpus := NewCorpus(records)
	corpus.logger.Info("已加载 %d 条利用记录: %s", corpus.Len(), path)
	return corpus, nil
}

// ParseCSV 解析 files_exploits.csv 格式的数据，列顺序以表头为准，缺少 id 的行被跳过
func ParseCSV(r io.Reader) ([]model.ExploitRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	field := func(row []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var records []model.ExploitRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("解析CSV失败: %w", err)
		}

		id := field(row, "id")
		if id == "" {
			continue
		}
		records = append(records, model.ExploitRecord{
			EDBID:         id,
			Title:         field(row, "description"),
			Type:          field(row, "type"),
			Platform:      field(row, "platform"),
			Path:          field(row, "file"),
			Port:          cast.ToInt(field(row, "port")),
			DatePublished: field(row, "date_published"),
			Codes:         field(row, "codes"),
		})
	}
	return records, nil
}
