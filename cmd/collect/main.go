// collect 是手动触发采集的命令行入口：执行一轮完整流水线、按分类抓取或清理缓存
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
