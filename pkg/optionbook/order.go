// 文件: pkg/optionbook/order.go
// 做市商签名订单
//
// 【来源】
// 订单由外部做市对手方 (RFQ) 报价并签名，引擎只消费不生成。
// 13 个字段是与做市方的兼容性契约，增删字段需要走版本升级。
//
// 【编码】
// CanonicalBytes 给出确定性二进制编码，签名和验签都基于它，
// 两端只要字段一致编码就一致。

package optionbook

import (
	"bytes"
	"encoding/binary"
)

// =============================================================================
// Order - 签名订单
// =============================================================================

// Order 做市商订单
//
// 金额/价格单位为抵押代币最小单位，时间为 unix 秒。
type Order struct {
	// ===== 做市方身份 =====
	Maker string `json:"maker"` // 做市商地址 (签名公钥的十六进制)

	// ===== 订单有效期 =====
	OrderExpiryTimestamp int64 `json:"order_expiry_timestamp"` // 订单本身的过期时间

	// ===== 标的与抵押 =====
	Collateral     string `json:"collateral"`     // 抵押资产地址 (须与引擎配置一致)
	PriceFeed      string `json:"price_feed"`     // 价格预言机地址 (结算路径使用)
	Implementation string `json:"implementation"` // 策略实现地址 (结算路径使用)

	// ===== 期权参数 =====
	IsCall  bool    `json:"is_call"` // true=看涨, false=看跌
	IsLong  bool    `json:"is_long"` // true=买方, false=卖方
	Strikes []int64 `json:"strikes"` // 行权价 (至少一个，首个为主行权价)
	Expiry  int64   `json:"expiry"`  // 期权到期时间

	// ===== 成交条件 =====
	MaxCollateralUsable int64 `json:"max_collateral_usable"` // 做市商接受的抵押上限
	Price               int64 `json:"price"`                 // 每张合约的权利金
	NumContracts        int64 `json:"num_contracts"`         // 本次成交张数

	// ===== 扩展 =====
	ExtraOptionData []byte `json:"extra_option_data"` // 透传参数，引擎不解析
}

// QuotedPremium 订单报出的权利金总额
func (o *Order) QuotedPremium() int64 {
	return o.Price * o.NumContracts
}

// =============================================================================
// 确定性编码
// =============================================================================

// CanonicalBytes 订单的规范二进制编码 (签名载体)
//
// 布局: 变长字段带 uint32 长度前缀，整数一律大端 int64，
// bool 编码为单字节 0/1。字段顺序固定，不可调整。
func (o *Order) CanonicalBytes() []byte {
	var buf bytes.Buffer

	writeString(&buf, o.Maker)
	writeInt64(&buf, o.OrderExpiryTimestamp)
	writeString(&buf, o.Collateral)
	writeBool(&buf, o.IsCall)
	writeString(&buf, o.PriceFeed)
	writeString(&buf, o.Implementation)
	writeBool(&buf, o.IsLong)
	writeInt64(&buf, o.MaxCollateralUsable)

	writeInt64(&buf, int64(len(o.Strikes)))
	for _, s := range o.Strikes {
		writeInt64(&buf, s)
	}

	writeInt64(&buf, o.Expiry)
	writeInt64(&buf, o.Price)
	writeInt64(&buf, o.NumContracts)
	writeBytes(&buf, o.ExtraOptionData)

	return buf.Bytes()
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeBytes(buf *bytes.Buffer, data []byte) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(len(data)))
	buf.Write(b[:])
	buf.Write(data)
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}
