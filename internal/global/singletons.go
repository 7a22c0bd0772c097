package global

// ShowTimingLogs 指示是否在 debug 级别输出各个 KMS 操作的耗时。由服务器配置文件设置。
var ShowTimingLogs bool
