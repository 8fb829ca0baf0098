package model

// ExploitRecord Exploit-DB 中的一条利用记录
type ExploitRecord struct {
	EDBID         string `json:"edb_id"`
	Title         string `json:"title"`
	Type          string `json:"type"`
	Platform      string `json:"platform"`
	Path          string `json:"path"`
	Port          int    `json:"port,omitempty"`
	DatePublished string `json:"date_published,omitempty"`
	Codes         string `json:"codes,omitempty"` // CVE;OSVDB 等编号
}
