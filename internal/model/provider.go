package model

import "fmt"

// Provider はサポートするソーシャルログインプロバイダー。
// 列挙外の値はParseProviderで拒否する。
type Provider int

const (
	// ProviderGoogle はGoogleログイン。
	ProviderGoogle Provider = iota + 1
	// ProviderKakao はカカオログイン。
	ProviderKakao
)

// Providers はUIに表示する順序でサポート対象のプロバイダーを返す。
func Providers() []Provider {
	return []Provider{ProviderGoogle, ProviderKakao}
}

// String はIdPのauthorizeエンドポイントに渡すプロバイダー名を返す。
func (p Provider) String() string {
	switch p {
	case ProviderGoogle:
		return "google"
	case ProviderKakao:
		return "kakao"
	default:
		return fmt.Sprintf("Provider(%d)", int(p))
	}
}

// Valid はプロバイダーがサポート対象かを判定する。
func (p Provider) Valid() bool {
	return p == ProviderGoogle || p == ProviderKakao
}

// ParseProvider はプロバイダー名をProviderに変換する。
func ParseProvider(name string) (Provider, error) {
	for _, p := range Providers() {
		if p.String() == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unsupported provider: %q", name)
}
