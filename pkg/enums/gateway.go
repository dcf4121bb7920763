package enums

import "fmt"

// Gateway identifies the payment provider handling an order's charge.
type Gateway string

const (
	GatewayMercadoPago Gateway = "mercadopago"
	GatewayAsaas       Gateway = "asaas"
	GatewayPushinPay   Gateway = "pushinpay"
)

var validGateways = []Gateway{
	GatewayMercadoPago,
	GatewayAsaas,
	GatewayPushinPay,
}

// IsValid reports whether the value matches a supported gateway.
func (g Gateway) IsValid() bool {
	for _, candidate := range validGateways {
		if candidate == g {
			return true
		}
	}
	return false
}

// ParseGateway converts the raw string to Gateway.
func ParseGateway(value string) (Gateway, error) {
	for _, candidate := range validGateways {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway %q", value)
}
