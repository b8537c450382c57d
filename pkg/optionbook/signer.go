// 文件: pkg/optionbook/signer.go
// 订单签名方案
//
// 【设计】
// 签名原语是可插拔的: 引擎只依赖 SignatureScheme 接口，
// 默认给 ed25519 实现，接入其他曲线 (如 secp256k1) 时
// 只需替换 Verifier 配置里的 Scheme。

package optionbook

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
)

var (
	ErrInvalidMakerKey = errors.New("maker address is not a valid public key")
)

// SignatureScheme 签名方案
type SignatureScheme interface {
	// Verify 校验 maker 对 msg 的签名
	// maker: 做市商地址 (公钥编码)
	// 返回 true 表示签名有效
	Verify(maker string, msg, sig []byte) (bool, error)
}

// =============================================================================
// Ed25519Scheme - 默认实现
// =============================================================================

// 确保实现了接口
var _ SignatureScheme = (*Ed25519Scheme)(nil)

// Ed25519Scheme ed25519 签名方案
// 做市商地址 = 公钥的十六进制编码
type Ed25519Scheme struct{}

// Verify 校验签名
func (Ed25519Scheme) Verify(maker string, msg, sig []byte) (bool, error) {
	pub, err := hex.DecodeString(maker)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false, ErrInvalidMakerKey
	}
	if len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig), nil
}

// MakerAddress 从公钥得到做市商地址
func MakerAddress(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}
