package models

import (
	"fmt"
	"math/rand"
)

// Policy selects which candidate model serves a given attempt. Policies are
// pure over (candidates, attempt index) apart from the explicitly random
// one, so schedules can be precomputed per session and logged up front.
type Policy string

const (
	// PolicyOrderly round-robins through the candidate list.
	PolicyOrderly Policy = "orderly"

	// PolicyRandom picks uniformly per attempt, avoiding an immediate
	// repeat of the previous pick when more than one candidate exists.
	PolicyRandom Policy = "random"

	// PolicyCicada prefers early (cheap) candidates but periodically jumps
	// deep into the list on a prime-driven cadence, so a run of rejections
	// against a resistant model eventually lands somewhere else entirely.
	PolicyCicada Policy = "cicada"
)

// IsValid checks the policy value.
func (p Policy) IsValid() bool {
	switch p {
	case PolicyOrderly, PolicyRandom, PolicyCicada:
		return true
	}
	return false
}

// cicadaEmergence is the modulus of the cicada walk. Together with the
// primes below cicadaPrimeLimit it sets how often the schedule strays from
// the front of the candidate list.
const (
	cicadaEmergence  = 233
	cicadaPrimeLimit = 100
)

// sievePrimes returns all primes <= limit.
func sievePrimes(limit int) []int {
	sieve := make([]bool, limit+1)
	primes := []int{}
	for i := 2; i <= limit; i++ {
		if sieve[i] {
			continue
		}
		primes = append(primes, i)
		for j := i * i; j <= limit; j += i {
			sieve[j] = true
		}
	}
	return primes
}

// cicadaPositions produces the raw position walk for n attempts.
func cicadaPositions(n int) []int {
	primes := sievePrimes(cicadaPrimeLimit)
	positions := make([]int, n)
	for i := 0; i < n; i++ {
		prime := primes[i%len(primes)]
		positions[i] = (i * prime) % cicadaEmergence
	}
	return positions
}

// Schedule precomputes the model for each of maxRetries attempts.
// Index 0 corresponds to attempt 1.
func Schedule(candidates []string, maxRetries int, policy Policy) ([]string, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("cannot build model schedule from empty candidate list")
	}
	if maxRetries <= 0 {
		return nil, fmt.Errorf("cannot build model schedule for %d retries", maxRetries)
	}

	n := len(candidates)
	schedule := make([]string, 0, maxRetries)

	switch policy {
	case PolicyOrderly:
		for i := 0; i < maxRetries; i++ {
			schedule = append(schedule, candidates[i%n])
		}

	case PolicyRandom:
		lastIdx := -1
		for i := 0; i < maxRetries; i++ {
			idx := rand.Intn(n)
			if idx == lastIdx && n > 1 {
				idx = (idx + 1) % n
			}
			schedule = append(schedule, candidates[idx])
			lastIdx = idx
		}

	case PolicyCicada:
		for _, pos := range cicadaPositions(maxRetries) {
			schedule = append(schedule, candidates[pos%n])
		}

	default:
		return nil, fmt.Errorf("invalid cycling policy: %q", policy)
	}

	return schedule, nil
}

// At returns the scheduled model for a 0-based attempt index, wrapping when
// the index exceeds the schedule length.
func At(schedule []string, attemptIdx int) string {
	if len(schedule) == 0 {
		return ""
	}
	if attemptIdx < 0 {
		attemptIdx = 0
	}
	return schedule[attemptIdx%len(schedule)]
}

// AtOffset resolves the judge model for a transport-level retry: offset
// rotates through the schedule so a malformed or failed judge call is
// retried against a different model.
func AtOffset(schedule []string, attemptIdx, offset int) string {
	if len(schedule) == 0 {
		return ""
	}
	return schedule[(attemptIdx+offset)%len(schedule)]
}
