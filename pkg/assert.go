package pkg

import "botflow"

func AssertNoError(err error) {
	if err != nil {
		botflow.Logger.Error().Err(err).Msg("Error occurred that should not have occurred.")
		panic(err)
	}
}
