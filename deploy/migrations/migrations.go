// Package migrations 内嵌 MySQL 建表脚本：A2A 任务表与 x402 收据账本。
package migrations

import "embed"

// Files 按文件名前缀的版本号依次执行。
//
//go:embed *.sql
var Files embed.FS
