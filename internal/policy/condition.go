package policy

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Context holds the request values condition operators evaluate against,
// keyed by condition key (e.g. "aws:SourceIp").
type Context map[string]string

// ifExistsSuffix relaxes an operator: a missing context key passes instead
// of failing.
const ifExistsSuffix = "IfExists"

// EvalConditions evaluates a statement's condition block. The block passes
// iff every operator passes, an operator passes iff every key under it
// passes, and a key passes if any expected value satisfies the predicate.
// Unknown operators fail, keeping unknowns on the deny side.
func EvalConditions(cond ConditionMap, ctx Context) bool {
	for operator, block := range cond {
		for key, values := range block {
			if !evalCondition(operator, key, values, ctx) {
				return false
			}
		}
	}
	return true
}

// evalCondition evaluates a single (operator, key, values) triple.
func evalCondition(operator, key string, values []string, ctx Context) bool {
	ifExists := strings.HasSuffix(operator, ifExistsSuffix)
	if ifExists {
		operator = strings.TrimSuffix(operator, ifExistsSuffix)
	}

	actual, exists := ctx[key]

	// Null tests key absence itself: {"Null": {"key": "true"}} passes when
	// the key is absent.
	if operator == "Null" {
		if len(values) == 0 {
			return false
		}
		wantNull := values[0] == "true"
		return wantNull == !exists
	}

	if !exists {
		return ifExists
	}

	switch {
	case strings.HasPrefix(operator, "String"):
		return evalStringCondition(operator, values, actual)
	case strings.HasPrefix(operator, "Numeric"):
		return evalNumericCondition(operator, values, actual)
	case strings.HasPrefix(operator, "Date"):
		return evalDateCondition(operator, values, actual)
	case operator == "Bool":
		return evalBoolCondition(values, actual)
	case operator == "IpAddress":
		return evalIPAddressCondition(values, actual)
	}

	// Unknown operator
	return false
}

func evalStringCondition(operator string, values []string, actual string) bool {
	switch operator {
	case "StringEquals":
		for _, v := range values {
			if actual == v {
				return true
			}
		}
		return false
	case "StringNotEquals":
		for _, v := range values {
			if actual == v {
				return false
			}
		}
		return true
	case "StringLike":
		for _, v := range values {
			if MatchPattern(v, actual) {
				return true
			}
		}
		return false
	case "StringNotLike":
		for _, v := range values {
			if MatchPattern(v, actual) {
				return false
			}
		}
		return true
	}
	return false
}

func evalNumericCondition(operator string, values []string, actual string) bool {
	actualNum, err := strconv.ParseFloat(actual, 64)
	if err != nil {
		return false
	}

	for _, v := range values {
		expected, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}

		switch operator {
		case "NumericEquals":
			if actualNum == expected {
				return true
			}
		case "NumericNotEquals":
			if actualNum == expected {
				return false
			}
		case "NumericLessThan":
			if actualNum < expected {
				return true
			}
		case "NumericGreaterThan":
			if actualNum > expected {
				return true
			}
		default:
			return false
		}
	}

	// NumericNotEquals passes when no value matched; everything else fails.
	return operator == "NumericNotEquals"
}

func evalDateCondition(operator string, values []string, actual string) bool {
	actualTime, err := time.Parse(time.RFC3339, actual)
	if err != nil {
		return false
	}

	for _, v := range values {
		expected, err := time.Parse(time.RFC3339, v)
		if err != nil {
			continue
		}

		switch operator {
		case "DateGreaterThan":
			if actualTime.After(expected) {
				return true
			}
		case "DateLessThan":
			if actualTime.Before(expected) {
				return true
			}
		default:
			return false
		}
	}

	return false
}

func evalBoolCondition(values []string, actual string) bool {
	actualBool := strings.EqualFold(actual, "true")
	for _, v := range values {
		if actualBool == strings.EqualFold(v, "true") {
			return true
		}
	}
	return false
}

// evalIPAddressCondition accepts either a CIDR block or a bare IP literal as
// the expected value.
func evalIPAddressCondition(values []string, actual string) bool {
	actualIP := net.ParseIP(actual)
	if actualIP == nil {
		return false
	}

	for _, v := range values {
		if _, ipNet, err := net.ParseCIDR(v); err == nil {
			if ipNet.Contains(actualIP) {
				return true
			}
			continue
		}
		if ip := net.ParseIP(v); ip != nil && actualIP.Equal(ip) {
			return true
		}
	}

	return false
}
