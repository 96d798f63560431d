// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供群组节点测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertJSONEqual / AssertContains
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual / WaitFor /
    WaitForChannel，支持超时轮询等待条件满足
  - 数据工具: MustJSON / MustParseJSON
  - HTTP 辅助: JSONRequest 构造 JSON 请求，DecodeEnvelope 解码
    {"success","data","error"} 响应外壳

# 子包

  - testutil/mocks: MockMesh，基于 testify/mock 的 mesh.Mesh 实现，
    默认模式记录调用，Strict 模式按 On(...) 期望返回
  - testutil/fixtures: 测试数据工厂，提供对等节点、任务结果与 RFQ 样例

# 使用示例

	m := mocks.NewMockMesh("self").WithPeers(fixtures.Peer("peer-a", 50, "shell"))
	ctx := testutil.TestContext(t)
	rec, err := auction.CreateAuction(ctx, "scan", "s-1", nil, nil)
*/
package testutil
