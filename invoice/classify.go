package invoice

import "strings"

// DefaultCategory is used when no rule matches.
const DefaultCategory = "其他发票"

// categoryRules are evaluated in order and the first match wins. The order
// is policy: the keyword sets are not mutually exclusive (a hotel invoice
// often mentions transport), so lodging is tested before dining, dining
// before rail/air, and ride-hailing last before the default.
var categoryRules = []struct {
	Category string
	Keywords []string
}{
	{"住宿发票", []string{"住宿", "客房", "酒店", "宾馆", "民宿"}},
	{"餐饮发票", []string{"餐饮", "餐费", "食品", "餐厅", "饭店", "外卖"}},
	{"飞机火车发票", []string{"航空", "机票", "铁路", "火车", "高铁", "动车", "航班"}},
	{"打车发票", []string{"网约车", "出租", "滴滴", "曹操", "T3", "运输"}},
}

// Classify maps the parsed service text (with the raw document text as
// backstop) to a filing category.
func Classify(service, rawText string) string {
	searchText := service + "\n" + rawText
	for _, rule := range categoryRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(searchText, kw) {
				return rule.Category
			}
		}
	}
	return DefaultCategory
}
