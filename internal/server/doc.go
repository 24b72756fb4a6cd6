// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 server 管理 storyflow serve 的 HTTP 服务器生命周期。

  - Manager：封装 net/http.Server，Start 非阻塞启动，Shutdown 在
    ShutdownTimeout 内排空请求，WaitForShutdown 等待 ctx 取消或服务异常。
  - Config / ConfigFrom：由 config.ServerConfig 派生监听地址与超时。

信号处理由调用方通过 signal.NotifyContext 完成。
*/
package server
