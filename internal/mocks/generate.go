package mocks

//go:generate mockery --name SagaRepository --srcpkg github.com/aevon-lab/eventcore/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
//go:generate mockery --name DeadLetterRepository --srcpkg github.com/aevon-lab/eventcore/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
