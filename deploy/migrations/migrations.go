package migrations

import "embed"

// Files 暴露断言账本与声誉分数表的全部 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
