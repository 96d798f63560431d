// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package attestation 对委托结果与证明记录进行签名和校验。

# 概述

签名使用 Ed25519：同一密钥对同一规范字节表示总是产生相同签名。
规范表示由固定字段顺序的 JSON 构成，并绑定 swarm 令牌的摘要，
因此任何字段变更、错误公钥或不同 swarm 的令牌都会使校验失败。
签名与公钥均以十六进制编码，格式错误的编码会被拒绝而不会 panic。

# 核心能力

  - GenerateKeyPair / LoadKeyFile / SaveKeyFile — 密钥生成与持久化
  - SignResult / VerifyResult                   — 结果级签名
  - Signer.Attest / VerifyAttestation           — 证明记录签名
  - VerifyChain                                 — 多跳证明链校验，返回首个断裂深度
  - HashFindings                                — 发现列表的 SHA-256 摘要
*/
package attestation
