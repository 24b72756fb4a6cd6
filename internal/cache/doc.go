// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 cache 提供 storyflow 共享的 Redis 连接与带前缀的键值缓存。

# 概述

NewRedisClient 按配置建立连接（可选 tlsutil 加固的 TLS），该连接由
挂起运行存储、Agent 工作记忆与本包的 Manager 共用。Manager 在其上提供
带 KeyPrefix 的字符串与 JSON 读写，网页抓取工具用它缓存已下载的页面。

# 核心类型

  - Manager：Get/Set/Delete/Ping 以及 GetJSON/SetJSON，
    ttl 为 0 时使用 DefaultTTL。
  - Config：地址、密码、连接池、默认 TTL、TLS 开关与健康检查间隔。

# 错误语义

  - ErrCacheMiss：键不存在或已过期，可用 IsCacheMiss 判断。
  - ErrClosed：Manager 已关闭。NewManager 创建的 Manager 拥有连接，
    Close 时关闭；NewManagerWithClient 创建的不会关闭共享连接。
*/
package cache
