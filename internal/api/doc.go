// Package api 暴露跨链报价与链表的 REST 接口，由 cmd/bridged 启动。
package api
